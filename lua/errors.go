package lua

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStateClosed is returned when a closed State is used or closed again
	ErrStateClosed = errors.New("lua: state is closed")

	// ErrStateBusy is returned when a State is closed or entered while a
	// script is executing on it
	ErrStateBusy = errors.New("lua: state is executing a script")
)

// SandboxViolation reports a script stepping outside the sandbox
type SandboxViolation struct {
	Msg string
}

func (e *SandboxViolation) Error() string {
	return withCode(e.Msg)
}

// CommandError reports a command a script could not run
type CommandError struct {
	Command string
	Msg     string
}

func (e *CommandError) Error() string {
	return withCode(e.Msg)
}

// ScriptCompileError reports a body that failed to parse or compile
type ScriptCompileError struct {
	Name string
	Err  error
}

func (e *ScriptCompileError) Error() string {
	return fmt.Sprintf("ERR Error compiling script (new function): %s: %v", e.Name, e.Err)
}

func (e *ScriptCompileError) Unwrap() error {
	return e.Err
}

// NoScriptError reports an EVALSHA for an unknown digest
type NoScriptError struct {
	SHA string
}

func (e *NoScriptError) Error() string {
	return "NOSCRIPT No matching script. Please use EVAL."
}

// LibraryConflictError reports a library or function name already taken
type LibraryConflictError struct {
	Library  string
	Function string
}

func (e *LibraryConflictError) Error() string {
	if e.Function != "" {
		return fmt.Sprintf("ERR Function %s already exists", e.Function)
	}
	return fmt.Sprintf("ERR Library '%s' already exists", e.Library)
}

// NotFoundError reports a missing library or function
type NotFoundError struct {
	Kind string // "library" or "function"
	Name string
}

func (e *NotFoundError) Error() string {
	if e.Kind == "function" {
		return "ERR Function not found"
	}
	return "ERR Library not found"
}

// ScriptError reports a runtime failure of user code
type ScriptError struct {
	Msg string
	Err error
}

func (e *ScriptError) Error() string {
	return withCode(e.Msg)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// withCode prefixes msg with ERR unless it already starts with an
// upper-case error code such as WRONGTYPE
func withCode(msg string) string {
	code := msg
	if i := strings.IndexByte(msg, ' '); i >= 0 {
		code = msg[:i]
	}
	if code == "" {
		return "ERR " + msg
	}
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return "ERR " + msg
		}
	}
	return msg
}
