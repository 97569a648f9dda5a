package version

import (
	"strings"
	"testing"
)

func TestStringReflectsBuildVersion(t *testing.T) {
	t.Cleanup(ForTesting("1.2.3-test"))

	if got := String(); got != "1.2.3-test" {
		t.Fatalf("expected version 1.2.3-test, got %s", got)
	}
}

func TestNormalizeVersion(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"0.3.0", "0.3.0"},
		{"v0.3.0", "0.3.0"},
		{"0.3.0-5-gabcdef", "0.3.0"},
		{"v0.3.0-10-g1234567", "0.3.0"},
		{"0.3.0-beta-5-gabcdef", "0.3.0-beta"},
		// Not a git-describe suffix: pre-release tags and plain hashes
		// must survive untouched.
		{"0.3.0-rc1", "0.3.0-rc1"},
		{"1.0-golden", "1.0-golden"},
		{"abcdef1", "abcdef1"},
		{"dev", "dev"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := normalizeVersion(tt.input); got != tt.want {
				t.Errorf("normalizeVersion(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatVersion(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"0.3.0", "v0.3.0"},
		{"v0.3.0", "v0.3.0"},
		{"1.0.0-rc1", "v1.0.0-rc1"},
		{"dev", "dev"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := FormatVersion(tt.input); got != tt.want {
				t.Errorf("FormatVersion(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCheckVersionMismatch(t *testing.T) {
	tests := []struct {
		name        string
		client      string
		daemon      string
		wantWarning bool
	}{
		{"equal versions", "0.3.0", "0.3.0", false},
		{"different versions", "0.3.0", "0.2.0", true},
		{"v prefix compares equal", "v0.3.0", "0.3.0", false},
		{"v prefix still mismatches", "v0.3.0", "v0.2.0", true},
		{"describe suffix compares equal", "0.3.0-5-gabcdef", "0.3.0", false},
		{"describe suffix still mismatches", "0.3.0-5-gabcdef", "0.2.0", true},
		{"describe suffix on both sides", "0.3.0-5-gabcdef", "v0.3.0-10-g1234567", false},
		{"dev daemon skipped", "0.3.0", "dev", false},
		{"dev client skipped", "dev", "0.3.0", false},
		{"both dev skipped", "dev", "dev", false},
		{"empty daemon skipped", "0.3.0", "", false},
		{"empty client skipped", "", "0.3.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(ForTesting(tt.client))

			got := CheckVersionMismatch(tt.daemon)
			if !tt.wantWarning {
				if got != "" {
					t.Fatalf("expected no warning, got %q", got)
				}
				return
			}
			if got == "" {
				t.Fatal("expected warning string, got empty")
			}
			// Literal substrings, not FormatVersion(), to avoid a
			// tautological assertion.
			for _, part := range []string{"WARNING: topiclens ", "topiclensd ", "please restart the daemon or reinstall"} {
				if !strings.Contains(got, part) {
					t.Errorf("warning %q missing %q", got, part)
				}
			}
		})
	}
}
