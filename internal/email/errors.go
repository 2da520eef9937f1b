package email

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidAddress    = errors.New("invalid address")
	ErrInvalidHeader     = errors.New("invalid header")
	ErrIncompleteMessage = errors.New("incomplete message")
)

// InvalidAddressError reports a malformed mailbox literal supplied to an
// address operation. The offending value is never stored.
type InvalidAddressError struct {
	Field   string
	Address string
	Err     error
}

func (e *InvalidAddressError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s address %q: %v", e.Field, e.Address, e.Err)
	}
	return fmt.Sprintf("invalid %s address %q", e.Field, e.Address)
}

func (e *InvalidAddressError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidAddress}
	}
	return []error{ErrInvalidAddress, e.Err}
}

// InvalidHeaderError reports a header name or value that cannot be emitted
// safely.
type InvalidHeaderError struct {
	Name   string
	Reason string
}

func (e *InvalidHeaderError) Error() string {
	return fmt.Sprintf("invalid header %q: %s", e.Name, e.Reason)
}

func (e *InvalidHeaderError) Unwrap() error {
	return ErrInvalidHeader
}

// IncompleteMessageError is returned by Build when required fields are missing.
type IncompleteMessageError struct {
	Missing []string
}

func (e *IncompleteMessageError) Error() string {
	return "incomplete message: missing " + strings.Join(e.Missing, ", ")
}

func (e *IncompleteMessageError) Unwrap() error {
	return ErrIncompleteMessage
}
