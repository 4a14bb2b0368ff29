package common

import (
	"errors"
	"fmt"
)

// ErrModulePaused is returned when an operator has paused a module.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the operator pause switches.
type PauseView interface {
	IsPaused(module string) bool
}

// PauseFunc adapts a function to PauseView.
type PauseFunc func(module string) bool

// IsPaused implements PauseView.
func (f PauseFunc) IsPaused(module string) bool { return f(module) }

// Guard fails with ErrModulePaused when p reports module as paused. A nil
// view never pauses.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", ErrModulePaused, module)
	}
	return nil
}
