package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a fault raised anywhere in the orchestrator, per the
// error handling design: each kind carries its own propagation policy.
type ErrorKind string

const (
	// ErrPermissionFault means the process was not invoked as a privileged user.
	ErrPermissionFault ErrorKind = "permission_fault"
	// ErrLockContention means another instance already holds the process lock.
	ErrLockContention ErrorKind = "lock_contention"
	// ErrUnsupportedHost means the distro family or firewall backend is unknown,
	// or a required kernel capability is absent.
	ErrUnsupportedHost ErrorKind = "unsupported_host"
	// ErrSnapshotInvalid means the initial snapshot is absent or incomplete
	// when a restore was attempted.
	ErrSnapshotInvalid ErrorKind = "snapshot_invalid"
	// ErrStepFault means a pipeline step signaled failure.
	ErrStepFault ErrorKind = "step_fault"
	// ErrBootstrapTimeout means Tor did not reach 100% bootstrap within the
	// configured window.
	ErrBootstrapTimeout ErrorKind = "bootstrap_timeout"
	// ErrExternalToolMissing means a required binary is not in the search path.
	ErrExternalToolMissing ErrorKind = "external_tool_missing"
	// ErrTransient means a timeout-guarded syscall exceeded its 2s bound.
	ErrTransient ErrorKind = "transient"
)

// Fault is a structured error carrying an ErrorKind, a remedial hint shown to
// the user, and an optional wrapped cause. Mirrors the teacher's structured
// sandbox.Error: a small closed set of codes plus a human message.
type Fault struct {
	Kind    ErrorKind
	Message string
	Remedy  string
	Cause   error
}

func (e *Fault) Error() string {
	if e.Remedy != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Remedy)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Fault) Unwrap() error { return e.Cause }

// NewFault constructs a Fault with a remedial action the CLI will surface,
// per §7's rule that every terminal error names one remedial action.
func NewFault(kind ErrorKind, message, remedy string, cause error) *Fault {
	return &Fault{Kind: kind, Message: message, Remedy: remedy, Cause: cause}
}

// IsKind reports whether err is (or wraps) a *Fault of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var f *Fault
	if !errors.As(err, &f) {
		return false
	}
	return f.Kind == kind
}

// FatalOnStartup reports whether a fault of this kind is fatal immediately on startup,
// before any mutation has occurred (PermissionFault, UnsupportedHost,
// LockContention).
func (k ErrorKind) FatalOnStartup() bool {
	switch k {
	case ErrPermissionFault, ErrUnsupportedHost, ErrLockContention:
		return true
	}
	return false
}
