package remote

import (
	"errors"
	"fmt"
)

// Kind classifies a remote failure by what the proxy must do about it.
type Kind int

const (
	// KindTransport covers anything unclassified: network errors, server
	// errors and undecodable responses.
	KindTransport Kind = iota
	// KindClientError is a rejected request (validation, malformed input).
	KindClientError
	// KindUnauthorized means the bearer token is invalid or expired.
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindClientError:
		return "client_error"
	default:
		return "transport"
	}
}

// Failure is a classified error from the remote API. Message is the
// diagnostic supplied by the server, if any.
type Failure struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("remote %s failure", f.Kind)
	if f.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", f.Status)
	}
	if f.Message != "" {
		msg += ": " + f.Message
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// KindOf classifies any error. Errors that are not a *Failure are transport
// failures.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindTransport
}

// MessageOf returns the server diagnostic carried by err, or "".
func MessageOf(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Message
	}
	return ""
}

func NewUnauthorized(status int, message string) *Failure {
	return &Failure{Kind: KindUnauthorized, Status: status, Message: message}
}

func NewClientError(status int, message string) *Failure {
	return &Failure{Kind: KindClientError, Status: status, Message: message}
}

func NewTransport(status int, err error) *Failure {
	return &Failure{Kind: KindTransport, Status: status, Err: err}
}
