package version

import "testing"

func TestString(t *testing.T) {
	orig := Version
	defer func() { Version = orig }()

	Version = "1.2.3"
	if got := String(); got != "1.2.3 (unknown, built unknown)" {
		t.Errorf("String() = %q", got)
	}
}
