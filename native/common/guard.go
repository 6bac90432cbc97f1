package common

import "errors"

var (
	ErrModulePaused  = errors.New("module paused")
	ErrReentrantCall = errors.New("reentrant call")
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// ReentrancyGuard rejects nested entry into a component while one of its
// state-mutating operations is still on the stack.
type ReentrancyGuard struct {
	entered bool
}

// Enter marks the component busy. Callers must defer Exit on success.
func (g *ReentrancyGuard) Enter() error {
	if g.entered {
		return ErrReentrantCall
	}
	g.entered = true
	return nil
}

func (g *ReentrancyGuard) Exit() { g.entered = false }

// Entered reports whether an operation is in progress.
func (g *ReentrancyGuard) Entered() bool { return g.entered }
