package app

import (
	"errors"
	"fmt"
)

// Application errors.
var (
	// ErrShutdown indicates the application has been shut down.
	ErrShutdown = errors.New("application shut down")

	// ErrNoWorkspace indicates no folders or workspace file were given.
	ErrNoWorkspace = errors.New("no workspace folders")

	// ErrFolderRequired indicates a folder must be named because the
	// workspace has more than one.
	ErrFolderRequired = errors.New("workspace has several folders; name one")

	// ErrUnknownFolder indicates no workspace folder has the given name.
	ErrUnknownFolder = errors.New("unknown workspace folder")

	// ErrNoFolderPath indicates a folder with no local path.
	ErrNoFolderPath = errors.New("folder has no local path")

	// ErrNotResolvable indicates no provider could resolve a task.
	ErrNotResolvable = errors.New("task cannot be resolved")

	// ErrTaskNotFound indicates no tasks.json entry has the given label.
	ErrTaskNotFound = errors.New("task not found")
)

// InitError represents an initialization error.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return "init " + e.Component + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// OperationError represents an error that occurred during a specific operation.
type OperationError struct {
	Op     string // Operation name (e.g., "run", "export")
	Target string // Target of the operation (e.g., task or folder name)
	Err    error  // Underlying error
}

// NewOperationError creates a new OperationError.
func NewOperationError(op, target string, err error) *OperationError {
	return &OperationError{
		Op:     op,
		Target: target,
		Err:    err,
	}
}

func (e *OperationError) Error() string {
	if e == nil {
		return ""
	}

	msg := e.Op
	if e.Target != "" {
		msg = fmt.Sprintf("%s %s", e.Op, e.Target)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
