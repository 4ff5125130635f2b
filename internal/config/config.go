// Package config loads the dirwatch host configuration from command-line
// flags, environment variables, a .env file and an optional YAML watch file.
package config

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/listenupapp/dirwatch/internal/validation"
	"github.com/listenupapp/dirwatch/internal/watcher"
)

// Config holds the application configuration.
type Config struct {
	App     AppConfig     `yaml:"app"`
	Logger  LoggerConfig  `yaml:"logger"`
	Server  ServerConfig  `yaml:"server"`
	Journal JournalConfig `yaml:"journal"`
	Watches []WatchConfig `yaml:"watches" validate:"min=1,unique=Name,dive"`
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string `yaml:"env" validate:"required,oneof=development staging production"`
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json pretty"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr         string        `yaml:"addr" validate:"required,hostname_port"`
	CORSOrigins  []string      `yaml:"cors_origins"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" validate:"gte=0"`
}

// JournalConfig holds change journal configuration.
type JournalConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path" validate:"required"`
	// Retention prunes records older than this; zero keeps everything.
	Retention time.Duration `yaml:"retention" validate:"gte=0"`
}

// WatchConfig declares one watched directory.
type WatchConfig struct {
	Recursive      *bool         `yaml:"recursive"`
	Name           string        `yaml:"name" validate:"required"`
	Root           string        `yaml:"root" validate:"required"`
	Mode           string        `yaml:"mode" validate:"omitempty,oneof=poll native"`
	Backend        string        `yaml:"backend" validate:"omitempty,oneof=inotify fsnotify"`
	IgnorePatterns []string      `yaml:"ignore" validate:"globs"`
	Interval       time.Duration `yaml:"interval" validate:"gte=0"`
	IncludeDirs    bool          `yaml:"include_dirs"`
	IgnoreHidden   bool          `yaml:"ignore_hidden"`
	Checksum       bool          `yaml:"checksum"`
	StrictNative   bool          `yaml:"strict_native"`
}

// Options converts the declaration into watcher options.
func (w WatchConfig) Options() (watcher.Options, error) {
	mode, err := watcher.ParseMode(w.Mode)
	if err != nil {
		return watcher.Options{}, err
	}

	opts := watcher.DefaultOptions(w.Root)
	opts.Mode = mode
	opts.Backend = w.Backend
	opts.IgnorePatterns = w.IgnorePatterns
	opts.IgnoreHidden = w.IgnoreHidden
	opts.IncludeDirs = w.IncludeDirs
	opts.Checksum = w.Checksum
	opts.StrictNative = w.StrictNative
	if w.Interval > 0 {
		opts.PollInterval = w.Interval
	}
	if w.Recursive != nil {
		opts.Recursive = *w.Recursive
	}
	return opts, nil
}

// LoadConfig loads configuration from the process arguments.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load loads configuration with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Watch file (for watches and any fields it sets).
// 5. Default values (lowest priority).
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("dirwatch", flag.ContinueOnError)

	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "", "Log format (json, pretty; default depends on env)")
	addr := fs.String("addr", "", "HTTP listen address (default: :8080)")
	journalPath := fs.String("journal", "", "Path to the change journal database")
	retention := fs.String("journal-retention", "", "Prune journal records older than this (e.g., 168h)")
	watchFile := fs.String("watch-file", "", "YAML file declaring watches")
	root := fs.String("root", "", "Directory to watch (adds a watch named \"default\")")
	mode := fs.String("mode", "", "Watch mode for --root (poll, native)")
	interval := fs.String("interval", "", "Poll interval for --root (default: 1s)")
	recursive := fs.String("recursive", "", "Watch subdirectories of --root (default: true)")
	envFile := fs.String("env-file", ".env", "Path to .env file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	cfg := &Config{}

	if path := getConfigValue(*watchFile, "WATCH_FILE", ""); path != "" {
		if err := cfg.loadWatchFile(path); err != nil {
			return nil, err
		}
	}

	cfg.App.Environment = getConfigValue(*env, "ENV", orDefault(cfg.App.Environment, "development"))
	cfg.Logger.Level = strings.ToLower(getConfigValue(*logLevel, "LOG_LEVEL", orDefault(cfg.Logger.Level, "info")))
	cfg.Logger.Format = getConfigValue(*logFormat, "LOG_FORMAT", cfg.Logger.Format)
	cfg.Server.Addr = getConfigValue(*addr, "HTTP_ADDR", orDefault(cfg.Server.Addr, ":8080"))
	if origins := getConfigValue("", "CORS_ORIGINS", ""); origins != "" {
		cfg.Server.CORSOrigins = splitList(origins)
	}
	cfg.Server.ReadTimeout = orDefault(cfg.Server.ReadTimeout, 15*time.Second)
	cfg.Server.IdleTimeout = orDefault(cfg.Server.IdleTimeout, 60*time.Second)
	cfg.Server.WriteTimeout = orDefault(cfg.Server.WriteTimeout, 15*time.Second)

	cfg.Journal.Path = getConfigValue(*journalPath, "JOURNAL_PATH", cfg.Journal.Path)
	if value := getConfigValue(*retention, "JOURNAL_RETENTION", ""); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("invalid journal retention %q: %w", value, err)
		}
		cfg.Journal.Retention = d
	}

	if rootPath := getConfigValue(*root, "DIRWATCH_ROOT", ""); rootPath != "" {
		w := WatchConfig{
			Name: "default",
			Root: rootPath,
			Mode: getConfigValue(*mode, "DIRWATCH_MODE", ""),
		}
		if value := getConfigValue(*interval, "DIRWATCH_INTERVAL", ""); value != "" {
			d, err := time.ParseDuration(value)
			if err != nil {
				return nil, fmt.Errorf("invalid poll interval %q: %w", value, err)
			}
			w.Interval = d
		}
		rec := getBoolConfigValue(*recursive, "DIRWATCH_RECURSIVE", true)
		w.Recursive = &rec
		cfg.Watches = append(cfg.Watches, w)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	return validation.New().Validate(c)
}

// loadWatchFile reads a YAML document into c.
func (c *Config) loadWatchFile(path string) error {
	data, err := os.ReadFile(path) //#nosec G304 -- Watch file path comes from the operator
	if err != nil {
		return fmt.Errorf("read watch file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parse watch file %s: %w", path, err)
	}
	return nil
}

func (c *Config) expandPaths() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	journal, err := expandPath(c.Journal.Path, filepath.Join(homeDir, ".dirwatch", "journal.db"))
	if err != nil {
		return fmt.Errorf("invalid journal path: %w", err)
	}
	c.Journal.Path = journal

	for i := range c.Watches {
		if c.Watches[i].Root == "" {
			continue
		}
		root, err := expandPath(c.Watches[i].Root, "")
		if err != nil {
			return fmt.Errorf("invalid root for watch %q: %w", c.Watches[i].Name, err)
		}
		c.Watches[i].Root = root
	}
	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty, defaultPath is returned unchanged.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envKey != "" {
		if envValue := os.Getenv(envKey); envValue != "" {
			return envValue
		}
	}
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

func orDefault[T comparable](value, fallback T) T {
	var zero T
	if value == zero {
		return fallback
	}
	return value
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Real environment variables take precedence over the file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
