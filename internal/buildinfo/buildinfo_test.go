package buildinfo

import (
	"strings"
	"testing"
)

func TestShort(t *testing.T) {
	origV, origC := Version, GitCommit
	defer func() { Version, GitCommit = origV, origC }()

	Version, GitCommit = "1.2.0", "0123456789abcdef"
	if got := Short(); got != "1.2.0+0123456" {
		t.Errorf("Short() = %q, want %q", got, "1.2.0+0123456")
	}
	GitCommit = "abc"
	if got := Short(); got != "1.2.0+abc" {
		t.Errorf("Short() = %q, want %q", got, "1.2.0+abc")
	}
}

func TestInfoAndString(t *testing.T) {
	info := Info()
	for _, k := range []string{"version", "git_commit", "go_version", "uptime"} {
		if _, ok := info[k]; !ok {
			t.Errorf("Info() missing %q", k)
		}
	}
	if !strings.HasPrefix(String(), "Thingy ") {
		t.Errorf("String() = %q, want Thingy prefix", String())
	}
}
