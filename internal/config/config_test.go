package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/dirwatch/internal/errors"
	"github.com/listenupapp/dirwatch/internal/watcher"
)

// isolate clears every variable Load reads so the host environment cannot leak in.
func isolate(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENV", "LOG_LEVEL", "LOG_FORMAT", "HTTP_ADDR", "CORS_ORIGINS",
		"JOURNAL_PATH", "JOURNAL_RETENTION", "WATCH_FILE",
		"DIRWATCH_ROOT", "DIRWATCH_MODE", "DIRWATCH_INTERVAL", "DIRWATCH_RECURSIVE",
	} {
		t.Setenv(key, "")
	}
}

func validConfig() *Config {
	return &Config{
		App:     AppConfig{Environment: "development"},
		Logger:  LoggerConfig{Level: "info"},
		Server:  ServerConfig{Addr: ":8080"},
		Journal: JournalConfig{Path: "/tmp/journal.db"},
		Watches: []WatchConfig{{Name: "default", Root: "/data"}},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad environment", func(c *Config) { c.App.Environment = "test" }},
		{"uppercase environment", func(c *Config) { c.App.Environment = "DEVELOPMENT" }},
		{"bad log level", func(c *Config) { c.Logger.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logger.Format = "xml" }},
		{"bad address", func(c *Config) { c.Server.Addr = "nowhere" }},
		{"no watches", func(c *Config) { c.Watches = nil }},
		{"watch without root", func(c *Config) { c.Watches[0].Root = "" }},
		{"bad watch mode", func(c *Config) { c.Watches[0].Mode = "fanotify" }},
		{"bad backend", func(c *Config) { c.Watches[0].Backend = "kqueue" }},
		{"bad glob", func(c *Config) { c.Watches[0].IgnorePatterns = []string{"[x"} }},
		{"negative interval", func(c *Config) { c.Watches[0].Interval = -time.Second }},
		{"duplicate names", func(c *Config) {
			c.Watches = append(c.Watches, WatchConfig{Name: "default", Root: "/other"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrValidation)
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	root := t.TempDir()

	cfg, err := Load([]string{"-env-file", filepath.Join(t.TempDir(), "none"), "-root", root})
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.True(t, filepath.IsAbs(cfg.Journal.Path))
	assert.Equal(t, "journal.db", filepath.Base(cfg.Journal.Path))

	require.Len(t, cfg.Watches, 1)
	w := cfg.Watches[0]
	assert.Equal(t, "default", w.Name)
	assert.Equal(t, root, w.Root)

	opts, err := w.Options()
	require.NoError(t, err)
	assert.Equal(t, watcher.ModePoll, opts.Mode)
	assert.True(t, opts.Recursive)
	assert.Equal(t, time.Second, opts.PollInterval)
}

func TestLoad_Precedence(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(`
# comment
LOG_LEVEL=debug
HTTP_ADDR="localhost:9000"
DIRWATCH_ROOT=`+dir+`
DIRWATCH_MODE=native
`), 0o644))
	t.Setenv("HTTP_ADDR", "localhost:7000")

	cfg, err := Load([]string{"-env-file", envFile, "-interval", "250ms", "-recursive", "false"})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level, ".env fills unset variables")
	assert.Equal(t, "localhost:7000", cfg.Server.Addr, "environment beats .env")

	opts, err := cfg.Watches[0].Options()
	require.NoError(t, err)
	assert.Equal(t, watcher.ModeNative, opts.Mode)
	assert.Equal(t, 250*time.Millisecond, opts.PollInterval, "flag beats everything")
	assert.False(t, opts.Recursive)
}

func TestLoad_WatchFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	inbox := filepath.Join(dir, "inbox")
	watchFile := filepath.Join(dir, "watches.yaml")
	require.NoError(t, os.WriteFile(watchFile, []byte(`
app:
  env: production
journal:
  retention: 168h
watches:
  - name: inbox
    root: `+inbox+`
    mode: native
    backend: fsnotify
    interval: 30s
    recursive: false
    include_dirs: true
    ignore: ["*.tmp", ".DS_Store"]
    ignore_hidden: true
    checksum: true
  - name: relative
    root: ./outbox
`), 0o644))

	cfg, err := Load([]string{"-env-file", filepath.Join(dir, "none"), "-watch-file", watchFile, "-log-level", "WARN"})
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.App.Environment)
	assert.Equal(t, "warn", cfg.Logger.Level)
	assert.Equal(t, 168*time.Hour, cfg.Journal.Retention)
	require.Len(t, cfg.Watches, 2)
	assert.True(t, filepath.IsAbs(cfg.Watches[1].Root))

	opts, err := cfg.Watches[0].Options()
	require.NoError(t, err)
	assert.Equal(t, inbox, opts.Root)
	assert.Equal(t, watcher.ModeNative, opts.Mode)
	assert.Equal(t, watcher.BackendFsnotify, opts.Backend)
	assert.Equal(t, 30*time.Second, opts.PollInterval)
	assert.False(t, opts.Recursive)
	assert.True(t, opts.IncludeDirs)
	assert.True(t, opts.IgnoreHidden)
	assert.True(t, opts.Checksum)
	assert.Equal(t, []string{"*.tmp", ".DS_Store"}, opts.IgnorePatterns)
}

func TestLoad_WatchFileErrors(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	noEnv := filepath.Join(dir, "none")

	t.Run("missing file", func(t *testing.T) {
		_, err := Load([]string{"-env-file", noEnv, "-watch-file", filepath.Join(dir, "absent.yaml")})
		assert.Error(t, err)
	})

	t.Run("unknown field", func(t *testing.T) {
		path := filepath.Join(dir, "typo.yaml")
		require.NoError(t, os.WriteFile(path, []byte("watches:\n  - name: a\n    rot: /x\n"), 0o644))
		_, err := Load([]string{"-env-file", noEnv, "-watch-file", path})
		assert.Error(t, err)
	})

	t.Run("no watches", func(t *testing.T) {
		_, err := Load([]string{"-env-file", noEnv})
		assert.ErrorIs(t, err, errors.ErrValidation)
	})

	t.Run("bad interval", func(t *testing.T) {
		_, err := Load([]string{"-env-file", noEnv, "-root", dir, "-interval", "soon"})
		assert.Error(t, err)
	})
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandPath("~/watched", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "watched"), got)

	got, err = expandPath("", "/fallback")
	require.NoError(t, err)
	assert.Equal(t, "/fallback", got)

	got, err = expandPath("rel/../dir", "")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
	assert.Equal(t, "dir", filepath.Base(got))
}

func TestGetBoolConfigValue(t *testing.T) {
	t.Setenv("DIRWATCH_TEST_BOOL", "YES")
	assert.True(t, getBoolConfigValue("", "DIRWATCH_TEST_BOOL", false))
	assert.False(t, getBoolConfigValue("no", "DIRWATCH_TEST_BOOL", true))
	assert.True(t, getBoolConfigValue("", "DIRWATCH_UNSET_BOOL", true))
}
