// Package version carries the build version stamped into both binaries and
// the client/daemon mismatch check shown by the status command.
package version

import (
	"fmt"
	"strings"
)

// version is overridden at build time via
// -ldflags "-X github.com/topiclens/topiclens/internal/version.version=...".
var version = "dev"

// String returns the build version for the current binary.
func String() string {
	return version
}

// ForTesting overrides the version string and returns a cleanup function
// that restores the original value. Must not be called concurrently.
func ForTesting(v string) func() {
	original := version
	version = v
	return func() { version = original }
}

// normalizeVersion makes versions comparable across build styles: it strips
// a leading "v" and the "-<count>-g<hash>" suffix git describe appends when
// the checkout sits past the last tag.
func normalizeVersion(v string) string {
	v = strings.TrimPrefix(v, "v")

	i := strings.LastIndex(v, "-g")
	if i <= 0 || !isLowerHex(v[i+2:]) {
		return v
	}
	rest := v[:i]
	j := strings.LastIndexByte(rest, '-')
	if j < 0 || !isDigits(rest[j+1:]) {
		return v
	}
	return rest[:j]
}

func isLowerHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FormatVersion renders a version for display with a "v" prefix. "dev" and
// the empty string pass through unchanged.
func FormatVersion(v string) string {
	if v == "" || v == "dev" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// CheckVersionMismatch compares this binary's version against the daemon's
// reported one and returns a warning string when they differ. Development
// builds ("dev" on either side) and missing versions produce no warning.
func CheckVersionMismatch(daemonVersion string) string {
	client := version
	if client == "" || daemonVersion == "" || client == "dev" || daemonVersion == "dev" {
		return ""
	}
	if normalizeVersion(client) == normalizeVersion(daemonVersion) {
		return ""
	}
	return fmt.Sprintf(
		"WARNING: topiclens %s connected to topiclensd %s; version mismatch, please restart the daemon or reinstall",
		FormatVersion(client), FormatVersion(daemonVersion),
	)
}
