package coupled

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig     = errors.New("coupled: invalid config")
	ErrCoreOutOfRange    = errors.New("coupled: core id out of range")
	ErrEmptyMask         = errors.New("coupled: empty coupled mask")
	ErrCoreNotInMask     = errors.New("coupled: core not in its own coupled mask")
	ErrAlreadyRegistered = errors.New("coupled: core already registered")
	ErrNotRegistered     = errors.New("coupled: core not registered")
	ErrSetsExhausted     = errors.New("coupled: no free coupled set slot")
	ErrStaleHandle       = errors.New("coupled: stale coupled set handle")
	ErrEnterFailed       = errors.New("coupled: idle state entry failed")
	ErrInvalidState      = errors.New("coupled: invalid idle state index")
	ErrDetached          = errors.New("coupled: device is no longer registered")
)

// ProtocolViolation is the panic value raised when a caller breaks the
// coupled idle contract. It is never returned as an ordinary error.
type ProtocolViolation struct {
	Core   int
	Reason string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("coupled: protocol violation on core %d: %s", e.Core, e.Reason)
}

func violation(core int, format string, args ...any) {
	panic(&ProtocolViolation{Core: core, Reason: fmt.Sprintf(format, args...)})
}
