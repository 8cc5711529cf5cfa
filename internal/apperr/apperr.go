// Package apperr defines the caller-visible error taxonomy of the gathering service.
package apperr

import (
	"errors"
	"net/http"
)

// Kind groups codes into the categories callers react to.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindForbidden  Kind = "forbidden"
	KindNotFound   Kind = "not_found"
	KindExpired    Kind = "expired"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeInvalidInput            Code = "INVALID_INPUT"
	CodeNoKickRecord            Code = "NO_KICK_RECORD"
	CodeNoDeleteRecord          Code = "NO_DELETE_RECORD"
	CodeCannotKickSelf          Code = "CANNOT_KICK_SELF"
	CodeCapacityFull            Code = "CAPACITY_FULL"
	CodeAlreadyMember           Code = "ALREADY_MEMBER"
	CodeDuplicateTypeMembership Code = "DUPLICATE_TYPE_MEMBERSHIP"
	CodeKicked                  Code = "KICKED"
	CodeNotCreator              Code = "NOT_CREATOR"
	CodeNotParticipant          Code = "NOT_PARTICIPANT"
	CodeCreatorCannotLeave      Code = "CREATOR_CANNOT_LEAVE"
	CodeNotFound                Code = "NOT_FOUND"
	CodeExpired                 Code = "EXPIRED"
	CodeDeleted                 Code = "DELETED"
)

var kindByCode = map[Code]Kind{
	CodeInvalidInput:            KindValidation,
	CodeNoKickRecord:            KindValidation,
	CodeNoDeleteRecord:          KindValidation,
	CodeCannotKickSelf:          KindValidation,
	CodeCapacityFull:            KindConflict,
	CodeAlreadyMember:           KindConflict,
	CodeDuplicateTypeMembership: KindConflict,
	CodeKicked:                  KindForbidden,
	CodeNotCreator:              KindForbidden,
	CodeNotParticipant:          KindForbidden,
	CodeCreatorCannotLeave:      KindForbidden,
	CodeNotFound:                KindNotFound,
	CodeExpired:                 KindExpired,
	CodeDeleted:                 KindExpired,
}

// Kind returns the category of c.
func (c Code) Kind() Kind {
	if k, ok := kindByCode[c]; ok {
		return k
	}
	return KindValidation
}

// Error is a domain error safe to show to the caller.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Kind returns the category of the error.
func (e *Error) Kind() Kind {
	return e.Code.Kind()
}

// New creates an error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an error that keeps cause for logging.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is comparisons.
var (
	ErrCapacityFull            = New(CodeCapacityFull, "gathering is full")
	ErrAlreadyMember           = New(CodeAlreadyMember, "already a participant of this gathering")
	ErrDuplicateTypeMembership = New(CodeDuplicateTypeMembership, "already participating in another gathering of this type")
	ErrKicked                  = New(CodeKicked, "you were removed from this gathering")
	ErrNotCreator              = New(CodeNotCreator, "only the creator may do this")
	ErrNotParticipant          = New(CodeNotParticipant, "not a participant of this gathering")
	ErrCreatorCannotLeave      = New(CodeCreatorCannotLeave, "the creator cannot leave; delete the gathering instead")
	ErrCannotKickSelf          = New(CodeCannotKickSelf, "cannot kick yourself")
	ErrNotFound                = New(CodeNotFound, "gathering not found")
	ErrExpired                 = New(CodeExpired, "gathering has ended")
	ErrDeleted                 = New(CodeDeleted, "gathering was deleted")
	ErrNoKickRecord            = New(CodeNoKickRecord, "no kick record for this gathering")
	ErrNoDeleteRecord          = New(CodeNoDeleteRecord, "gathering was not deleted by an administrator")
)

// Validation builds an INVALID_INPUT error.
func Validation(message string) *Error {
	return New(CodeInvalidInput, message)
}

// As extracts a domain error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus maps a kind to the response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
