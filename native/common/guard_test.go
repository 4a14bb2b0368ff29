package common

import (
	"errors"
	"testing"
)

func TestGuard(t *testing.T) {
	if err := Guard(nil, "presale"); err != nil {
		t.Fatalf("nil view must not pause: %v", err)
	}
	paused := PauseFunc(func(module string) bool { return module == "presale" })
	if err := Guard(paused, ""); err != nil {
		t.Fatalf("empty module must not pause: %v", err)
	}
	if err := Guard(paused, "export"); err != nil {
		t.Fatalf("unexpected pause: %v", err)
	}
	err := Guard(paused, "presale")
	if !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}
