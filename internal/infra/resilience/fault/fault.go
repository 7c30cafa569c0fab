// Package fault normalises arbitrary Go errors into a flat value that the
// retry predicates and the error classifier can inspect without type
// switches of their own.
package fault

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// Connection error codes, named after the socket errno they stand for.
const (
	CodeConnRefused = "ECONNREFUSED"
	CodeConnReset   = "ECONNRESET"
	CodeTimeout     = "ETIMEDOUT"
	CodeNotFound    = "ENOTFOUND"
	CodePipe        = "EPIPE"
)

// NameSyntaxError is reported for malformed payloads.
const NameSyntaxError = "SyntaxError"

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// Coder is implemented by errors that carry an explicit error code.
type Coder interface {
	ErrorCode() string
}

// Details is the normalised view of an error.
type Details struct {
	Code      string
	Status    int
	Name      string
	Message   string
	Component string
	// Network is set for transport failures (no response was received).
	Network bool
}

// Inspect walks err's chain and fills in Details. A nil error yields the
// zero value.
func Inspect(err error) Details {
	if err == nil {
		return Details{}
	}
	d := Details{Message: err.Error()}

	var tagged *TaggedError
	if errors.As(err, &tagged) {
		d.Component = tagged.Component
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		d.Status = sc.HTTPStatus()
	}

	var coder Coder
	if errors.As(err, &coder) {
		d.Code = coder.ErrorCode()
	}
	if d.Code == "" {
		d.Code = socketCode(err)
	}
	if d.Code != "" {
		d.Network = true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		d.Network = true
		if d.Code == "" && netErr.Timeout() {
			d.Code = CodeTimeout
		}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		d.Name = NameSyntaxError
	}
	return d
}

func socketCode(err error) string {
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return CodeConnRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.ErrUnexpectedEOF):
		return CodeConnReset
	case errors.Is(err, syscall.EPIPE):
		return CodePipe
	case errors.Is(err, syscall.ETIMEDOUT), errors.Is(err, os.ErrDeadlineExceeded):
		return CodeTimeout
	case errors.As(err, &dnsErr):
		if dnsErr.IsTimeout {
			return CodeTimeout
		}
		return CodeNotFound
	}
	return ""
}

// IsConnectionCode reports whether code belongs to the refused/reset/timeout
// family.
func IsConnectionCode(code string) bool {
	switch code {
	case CodeConnRefused, CodeConnReset, CodeTimeout, CodeNotFound, CodePipe:
		return true
	}
	return false
}

// IsCanceled reports whether err is a context cancellation or deadline.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// TaggedError attaches the originating component ("websocket", "7tv", ...)
// to an error.
type TaggedError struct {
	Component string
	Err       error
}

func (e *TaggedError) Error() string { return e.Component + ": " + e.Err.Error() }

func (e *TaggedError) Unwrap() error { return e.Err }

// Tag wraps err with a component tag. A nil error stays nil.
func Tag(err error, component string) error {
	if err == nil {
		return nil
	}
	return &TaggedError{Component: component, Err: err}
}

// CodeError is a plain error with an explicit code, used by adapters that
// learn about failures from a protocol frame rather than a socket.
type CodeError struct {
	Code string
	Msg  string
}

func (e *CodeError) Error() string {
	if e.Msg == "" {
		return e.Code
	}
	return e.Code + ": " + e.Msg
}

func (e *CodeError) ErrorCode() string { return e.Code }
