package obs

import "testing"

func TestSetEnabledToggle(t *testing.T) {
	orig := Enabled()
	defer SetEnabled(orig)

	SetEnabled(true)
	if !Enabled() {
		t.Fatal("expected Enabled() to be true after SetEnabled(true)")
	}

	SetEnabled(false)
	if Enabled() {
		t.Fatal("expected Enabled() to be false after SetEnabled(false)")
	}
}
