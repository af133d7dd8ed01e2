package sanitize

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestSkillName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "simple", input: "weather", want: "weather"},
		{name: "trimmed", input: "  weather \n", want: "weather"},
		{name: "namespaced", input: "acme:weather-v2.1_beta", want: "acme:weather-v2.1_beta"},
		{name: "empty", input: "", wantErr: ErrInvalidName},
		{name: "whitespace only", input: "   ", wantErr: ErrInvalidName},
		{name: "traversal", input: "a..b", wantErr: ErrInvalidName},
		{name: "slash", input: "acme/weather", wantErr: ErrInvalidName},
		{name: "space inside", input: "my skill", wantErr: ErrInvalidName},
		{name: "leading dash", input: "-rf", wantErr: ErrInvalidName},
		{name: "shell metachar", input: "x;rm", wantErr: ErrInvalidName},
		{name: "too long", input: strings.Repeat("a", MaxSkillNameLength+1), wantErr: ErrInvalidName},
		{name: "max length", input: strings.Repeat("a", MaxSkillNameLength), want: strings.Repeat("a", MaxSkillNameLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SkillName(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("SkillName(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("SkillName(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("SkillName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFilePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{name: "empty path", path: "", wantErr: ErrEmptyPath},
		{name: "relative path", path: "patterns.toml"},
		{name: "absolute path", path: "/etc/crewgate/patterns.toml"},
		{name: "traversal", path: "../etc/passwd", wantErr: ErrPathTraversal},
		{name: "traversal in middle", path: "conf/../../etc/passwd", wantErr: ErrPathTraversal},
		{name: "encoded slashes still contain dots", path: "conf/..%2f..%2fetc", wantErr: ErrPathTraversal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FilePath(tt.path)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("FilePath(%q) error = %v, want %v", tt.path, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FilePath(%q) unexpected error: %v", tt.path, err)
			}
			if !filepath.IsAbs(got) {
				t.Errorf("FilePath(%q) = %q, want absolute path", tt.path, got)
			}
		})
	}
}
