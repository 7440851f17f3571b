package plugin

import (
	"errors"
	"strings"
)

var (
	// ErrLifecycleOrder is returned when a lifecycle or loader call is made
	// in a state that does not allow it.
	ErrLifecycleOrder = errors.New("plugin lifecycle call out of order")

	// ErrUnknownPlugin is returned for plugins the manager never registered.
	ErrUnknownPlugin = errors.New("unknown plugin")

	// ErrUnknownHook is returned for hook types outside the enumeration.
	ErrUnknownHook = errors.New("unknown hook type")

	// ErrHookNotImplemented is returned when a plugin enables a hook it has
	// no callback for.
	ErrHookNotImplemented = errors.New("plugin does not implement hook")
)

// ActivationError reports why a dynamic activation pass stopped. Start-up
// is expected to abort when it is returned.
type ActivationError struct {
	Plugin string
	Errors []string
}

func (e *ActivationError) Error() string {
	if len(e.Errors) == 1 {
		return "plugin activation: " + e.Errors[0]
	}
	return "plugin activation:\n- " + strings.Join(e.Errors, "\n- ")
}
