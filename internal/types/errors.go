package types

import (
	"errors"
	"fmt"

	"github.com/golang/glog"
)

// Sentinel errors for the failure classes surfaced by the engine.
var (
	// ErrOutOfSpace means no free block exists and no victim can be reclaimed.
	ErrOutOfSpace = errors.New("out of physical space")
	// ErrTransient marks a request rejected without effect on stored data
	// (queue full, memory pressure, a write payload that is not one page).
	ErrTransient = errors.New("transient failure")
	// ErrBadAddress means a logical address or request shape is invalid.
	ErrBadAddress = errors.New("bad address")
	// ErrDevice wraps an underlying read/write/erase failure.
	ErrDevice = errors.New("device failure")
	// ErrIntegrity marks an internal invariant violation.
	ErrIntegrity = errors.New("integrity violation")
)

// DebugAsserts makes integrity violations panic instead of being logged.
// Tests enable it so invariant breaks fail loudly.
var DebugAsserts = false

// Integrityf reports an invariant violation. In debug builds it panics;
// otherwise it logs and returns an ErrIntegrity-wrapped error so the caller
// can continue.
func Integrityf(format string, args ...interface{}) error {
	err := fmt.Errorf("%w: %s", ErrIntegrity, fmt.Sprintf(format, args...))
	if DebugAsserts {
		panic(err)
	}
	glog.Error(err)
	return err
}
