package domain

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")
	ErrForbidden            = errors.New("forbidden")

	ErrEventFull               = errors.New("event full")
	ErrAlreadyRegistered       = errors.New("already registered")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrAlreadyAttended         = errors.New("already attended")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrRegistrationClosed      = errors.New("registration closed")
	ErrNotEligible             = errors.New("not eligible")
	ErrPurchaseLimit           = errors.New("purchase limit exceeded")
	ErrTeamFull                = errors.New("team full")
	ErrAlreadyInTeam           = errors.New("already in team")
	ErrInvalidTicket           = errors.New("invalid ticket")
)

// Kind groups failures by how a caller should react to them.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindAuthorization
	KindConflict
	KindInvalidTicket
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindInvalidTicket:
		return "invalid_ticket"
	default:
		return "internal"
	}
}

// Error is a business-rule failure. Code is one of the sentinels above so
// callers branch with errors.Is; Msg is safe to show to the end user.
type Error struct {
	Kind Kind
	Code error
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Code }

func newError(kind Kind, code error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) error {
	return newError(KindValidation, ErrInvalidInput, format, args...)
}

func NotFound(what string) error {
	return newError(KindNotFound, ErrNotFound, "%s not found", what)
}

func Forbidden(format string, args ...interface{}) error {
	return newError(KindAuthorization, ErrForbidden, format, args...)
}

func Conflict(code error, format string, args ...interface{}) error {
	return newError(KindConflict, code, format, args...)
}

// InvalidTicket never says which part of the ticket failed.
func InvalidTicket() error {
	return &Error{Kind: KindInvalidTicket, Code: ErrInvalidTicket, Msg: "invalid ticket"}
}

// KindOf reports the Kind of err, KindInternal when err is not a *Error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return KindInternal
}
