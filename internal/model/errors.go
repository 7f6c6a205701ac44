package model

import "fmt"

// ErrorKind is the error taxonomy from spec §7. It classifies failures
// without introducing a parallel exception hierarchy: every error
// returned by this module wraps a plain error and can be inspected with
// errors.As against *Error.
type ErrorKind string

const (
	KindParse      ErrorKind = "ParseError"
	KindValidation ErrorKind = "ValidationError"
	KindSelection  ErrorKind = "SelectionError"
	KindDocker     ErrorKind = "DockerError"
	KindContainer  ErrorKind = "ContainerError"
	KindNetwork    ErrorKind = "NetworkError"
	KindFilesystem ErrorKind = "FilesystemError"
	KindTimeout    ErrorKind = "TimeoutError"
	KindCancelled  ErrorKind = "UserCancelled"
	KindIO         ErrorKind = "IOError"
	KindNotFound   ErrorKind = "NotFound"
)

// Error is a kind-tagged error.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap tags err with kind. A nil err returns nil.
func Wrap(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Wrapf tags a formatted error with kind.
func Wrapf(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}
