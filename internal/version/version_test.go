package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	origV, origD := Version, Dirty
	t.Cleanup(func() { Version, Dirty = origV, origD })

	Version, Dirty = "1.2.0", "false"
	if got := String(); got != "1.2.0" {
		t.Errorf("String() = %q", got)
	}
	Dirty = "true"
	if got := String(); got != "1.2.0-dirty" {
		t.Errorf("String() = %q", got)
	}
	if !Get().Dirty {
		t.Error("Get().Dirty = false")
	}
	if full := Full(); !strings.HasPrefix(full, "pricewatch 1.2.0-dirty\n") {
		t.Errorf("Full() = %q", full)
	}
}
