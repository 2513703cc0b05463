// Package errors provides structured error types for the Mosaic application.
// These errors provide context about what operation failed and where.
package errors

import (
	"errors"
	"fmt"
)

// Op describes an operation, usually as "package.function".
type Op string

// Kind categorizes the type of error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalid
	KindIO
	KindNetwork
	KindConfig
	KindGit
	KindAgent
	KindProcess
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindInvalid:
		return "invalid"
	case KindIO:
		return "I/O error"
	case KindNetwork:
		return "network error"
	case KindConfig:
		return "configuration error"
	case KindGit:
		return "git error"
	case KindAgent:
		return "agent runtime error"
	case KindProcess:
		return "process error"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown error"
	}
}

// Error is the structured error type for Mosaic.
type Error struct {
	Op      Op     // Operation that failed
	Kind    Kind   // Category of error
	Err     error  // Underlying error
	Context string // Additional context
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Context, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a new Error. Arguments can be:
// - Op: the operation name
// - Kind: the error kind
// - string: context message
// - error: the underlying error
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Op:
			e.Op = a
		case Kind:
			e.Kind = a
		case string:
			e.Context = a
		case error:
			e.Err = a
		}
	}
	if e.Err == nil {
		e.Err = errors.New(e.Context)
		e.Context = ""
	}
	return e
}

// Is reports whether err is of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// GetKind returns the Kind of an error.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Agent runtime errors

// RuntimeStartFailed reports a failure to launch the agent runtime subprocess.
func RuntimeStartFailed(err error) error {
	return E(Op("agent.ensureInstance"), KindProcess, "failed to start agent runtime", err)
}

// RuntimeNotReady reports that the runtime never announced a listening address.
func RuntimeNotReady(output string) error {
	return E(Op("agent.ensureInstance"), KindTimeout, fmt.Sprintf("agent runtime did not become ready; captured output: %q", output))
}

// SessionNotConnected reports an operation against a session with no active mapping.
func SessionNotConnected(id string) error {
	return E(Op("agent.lookup"), KindNotFound, fmt.Sprintf("no active connection for session %s", id))
}

// Git errors

// GitRenameFailed reports a failed branch rename.
func GitRenameFailed(from, to string, err error) error {
	return E(Op("gitops.RenameBranch"), KindGit, fmt.Sprintf("failed to rename branch %s to %s", from, to), err)
}
