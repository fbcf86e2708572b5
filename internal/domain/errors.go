package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures the way callers need to react to them.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindAuth           ErrorKind = "auth"
	KindNetwork        ErrorKind = "network"
	KindProtocol       ErrorKind = "protocol"
	KindNotImplemented ErrorKind = "not_implemented"
)

// Hop names the remote a network or protocol failure happened on.
type Hop string

const (
	HopBroker     Hop = "broker"
	HopUpload     Hop = "upload"
	HopRepository Hop = "repository"
)

// Error is the failure half of every core operation. Message is what the
// user sees; Err keeps the underlying cause for logs and errors.Is.
type Error struct {
	Kind    ErrorKind
	Hop     Hop
	Timeout bool
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind) + " error"
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrNotAuthenticated is returned by every repository operation that needs a session.
var ErrNotAuthenticated = &Error{Kind: KindAuth, Message: "Not authenticated"}

func NewValidationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func NewAuthError(msg string, err error) *Error {
	return &Error{Kind: KindAuth, Message: msg, Err: err}
}

func NewNetworkError(hop Hop, timeout bool, msg string, err error) *Error {
	return &Error{Kind: KindNetwork, Hop: hop, Timeout: timeout, Message: msg, Err: err}
}

func NewProtocolError(hop Hop, msg string, err error) *Error {
	return &Error{Kind: KindProtocol, Hop: hop, Message: msg, Err: err}
}

func NewNotImplementedError(feature string) *Error {
	return &Error{Kind: KindNotImplemented, Message: fmt.Sprintf("%s is not implemented yet", feature)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
