package tools

import (
	"errors"
	"fmt"
)

// ErrUnknownCapability marks a request for a capability that is not
// registered. Callers report it to the model as data rather than
// failing the turn.
var ErrUnknownCapability = errors.New("unknown capability")

// CapabilityError wraps a handler failure with the capability name.
type CapabilityError struct {
	Capability string
	Err        error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability %s: %v", e.Capability, e.Err)
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}
