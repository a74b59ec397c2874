package broker

import (
	"errors"
	"fmt"
)

// ErrorKind distinguishes the broker failure classes.
type ErrorKind string

const (
	KindConnection   ErrorKind = "connection"
	KindPublish      ErrorKind = "publish"
	KindSubscription ErrorKind = "subscription"
)

// Error is the common broker error. Every broker failure is one of the three
// kinds so callers can branch with errors.As plus a kind check.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("broker: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewConnectionError reports a connect/disconnect or not-connected failure.
func NewConnectionError(msg string, cause error) *Error {
	return &Error{Kind: KindConnection, Msg: msg, Err: cause}
}

// NewPublishError reports a publish failure.
func NewPublishError(msg string, cause error) *Error {
	return &Error{Kind: KindPublish, Msg: msg, Err: cause}
}

// NewSubscriptionError reports a subscribe/unsubscribe failure.
func NewSubscriptionError(msg string, cause error) *Error {
	return &Error{Kind: KindSubscription, Msg: msg, Err: cause}
}

// IsKind reports whether err is a broker Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
