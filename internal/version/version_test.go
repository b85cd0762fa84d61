package version

import (
	"strings"
	"testing"
)

func TestStringIncludesBuildInfo(t *testing.T) {
	Version, Commit, BuildDate = "1.2.3", "abc123", "2026-01-01T00:00:00Z"
	t.Cleanup(func() { Version, Commit, BuildDate = "dev", "unknown", "unknown" })

	got := String()
	for _, want := range []string{"1.2.3", "abc123", "2026-01-01T00:00:00Z"} {
		if !strings.Contains(got, want) {
			t.Fatalf("版本信息缺少 %q: %s", want, got)
		}
	}
}
