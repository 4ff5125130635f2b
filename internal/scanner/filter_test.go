package scanner

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilter_ShouldIgnore(t *testing.T) {
	root := filepath.FromSlash("/home/u/.config/app")
	f := Filter{
		IgnorePatterns: []string{"*.tmp", "Thumbs.db"},
		IgnoreHidden:   true,
	}

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"root inside hidden dir", "/home/u/.config/app", false},
		{"plain file", "/home/u/.config/app/a.txt", false},
		{"hidden file", "/home/u/.config/app/.env", true},
		{"file in hidden dir", "/home/u/.config/app/.cache/x", true},
		{"glob match", "/home/u/.config/app/sub/x.tmp", true},
		{"exact name", "/home/u/.config/app/Thumbs.db", true},
		{"inside ignored dir", "/home/u/.config/app/x.tmp/file", true},
		{"pattern is not a substring match", "/home/u/.config/app/x.tmpl", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.ShouldIgnore(root, filepath.FromSlash(tt.path)))
		})
	}
}

func TestFilter_HiddenDisabled(t *testing.T) {
	f := Filter{}
	assert.False(t, f.ShouldIgnore("/w", "/w/.env"))
}

func TestFilter_Validate(t *testing.T) {
	assert.NoError(t, Filter{IgnorePatterns: []string{"*.log", "a?c"}}.Validate())
	assert.Error(t, Filter{IgnorePatterns: []string{"[unclosed"}}.Validate())
}
