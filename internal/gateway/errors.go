package gateway

import (
	"errors"
	"fmt"

	"github.com/roach88/sessiongate/internal/contract"
)

// Kind classifies a rejected request independently of its status code.
type Kind int

// Error kinds, in the order the gateway checks for them.
const (
	KindNone Kind = iota
	KindUnauthorized
	KindValidation
	KindConflict
	KindNotFound
	KindUpstreamFailure
	KindInternal
)

var kindNames = map[Kind]string{
	KindNone:            "none",
	KindUnauthorized:    "unauthorized",
	KindValidation:      "validation",
	KindConflict:        "conflict",
	KindNotFound:        "not_found",
	KindUpstreamFailure: "upstream_failure",
	KindInternal:        "internal",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Status returns the HTTP status the contract assigns to k.
func (k Kind) Status(c *contract.Contract) int {
	switch k {
	case KindNone:
		return c.Status.OK
	case KindUnauthorized:
		return c.Status.Unauthorized
	case KindValidation:
		return c.Status.Validation
	case KindConflict:
		return c.Status.Conflict
	case KindNotFound:
		return c.Status.NotFound
	case KindUpstreamFailure:
		return c.Status.UpstreamFailure
	default:
		return 500
	}
}

// Error is a request rejection with its kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err. Nil maps to KindNone and foreign errors
// to KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return KindInternal
}
