package version

import (
	"strings"
	"testing"
)

func TestString_IncludesBuildInfo(t *testing.T) {
	t.Parallel()

	s := String()
	for _, want := range []string{"docqa", Version, Commit} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
}
