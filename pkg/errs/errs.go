// Package errs classifies failures of the minting pipeline so callers can
// decide between retrying, surfacing to the buyer, or paging an operator.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind 错误分类
type Kind uint8

const (
	Internal Kind = iota
	InvalidInput
	ServiceUnavailable
	OutOfStock
	SignatureInvalid
	DuplicateMint
	NotFound
	MintInProgress
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case ServiceUnavailable:
		return "service_unavailable"
	case OutOfStock:
		return "out_of_stock"
	case SignatureInvalid:
		return "signature_invalid"
	case DuplicateMint:
		return "duplicate_mint"
	case NotFound:
		return "not_found"
	case MintInProgress:
		return "mint_in_progress"
	default:
		return "internal"
	}
}

// Error carries a Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with kind and op. A nil err still yields a non-nil *Error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Ef is E with a formatted cause.
func Ef(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the outermost Kind found in the chain. Timeouts and network
// errors without an explicit kind count as ServiceUnavailable.
func KindOf(err error) Kind {
	if err == nil {
		return Internal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ServiceUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ServiceUnavailable
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether retrying the same call may succeed.
func Retryable(err error) bool {
	return Is(err, ServiceUnavailable)
}
