package tools

import (
	"errors"
	"strings"
	"testing"
)

func TestCapabilityErrorWrapsSentinel(t *testing.T) {
	err := &CapabilityError{Capability: "no_such_tool", Err: ErrUnknownCapability}

	if !errors.Is(err, ErrUnknownCapability) {
		t.Error("errors.Is does not see the sentinel through the wrapper")
	}
	if msg := err.Error(); !strings.Contains(msg, "no_such_tool") || !strings.Contains(msg, "unknown capability") {
		t.Errorf("Error() = %q", msg)
	}
}

func TestCapabilityErrorWrapsHandlerFailure(t *testing.T) {
	cause := errors.New("connection refused")
	err := &CapabilityError{Capability: "web_search", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is does not see the cause")
	}
	if errors.Is(err, ErrUnknownCapability) {
		t.Error("unrelated sentinel matched")
	}
}
