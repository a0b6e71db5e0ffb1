package types

import (
	"errors"
	"testing"
)

func TestConversionErrorUnwrap(t *testing.T) {
	inner := errors.New("unexpected token")
	err := NewConversionError("bad owl expression", inner)

	if !errors.Is(err, inner) {
		t.Fatal("errors.Is should find the wrapped inner error")
	}
	var ce *ConversionError
	if !errors.As(err, &ce) {
		t.Fatal("errors.As should recover the *ConversionError")
	}
}

func TestTransientStoreErrorUnwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := NewTransientStoreError(inner)

	if !errors.Is(err, inner) {
		t.Fatal("errors.Is should find the wrapped inner error")
	}
}

func TestLockContentionErrorMessage(t *testing.T) {
	err := NewLockContentionError("MAIN/PROJECT-A")
	var lce *LockContentionError
	if !errors.As(err, &lce) {
		t.Fatal("errors.As should recover the *LockContentionError")
	}
	if lce.Path != "MAIN/PROJECT-A" {
		t.Errorf("Path = %q, want MAIN/PROJECT-A", lce.Path)
	}
}
