package gameobject

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kasuganosora/beastiary/store"
)

// ErrorCode classifies failures surfaced by game objects.
type ErrorCode string

const (
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeInvalidValue         ErrorCode = "INVALID_VALUE"
	CodeBrokenReference      ErrorCode = "BROKEN_REFERENCE"
	CodeInsufficientResource ErrorCode = "INSUFFICIENT_RESOURCE"
	CodePersistence          ErrorCode = "PERSISTENCE"
	CodeContract             ErrorCode = "CONTRACT"
)

// Error is a classified game-object error. Collection, ID and Field are
// filled in when known.
type Error struct {
	Code       ErrorCode
	Op         string
	Collection string
	ID         string
	Field      string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Collection != "" {
		b.WriteString(e.Collection)
		if e.ID != "" {
			b.WriteString("/")
			b.WriteString(e.ID)
		}
		if e.Field != "" {
			b.WriteString(".")
			b.WriteString(e.Field)
		}
		b.WriteString(": ")
	} else if e.Field != "" {
		b.WriteString(e.Field)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Code))
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches sentinels by code, so errors.Is(err, ErrNotFound) holds for any
// NOT_FOUND error regardless of its context.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Code == e.Code && t.Op == "" && t.Collection == "" && t.ID == "" && t.Field == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrNotFound             = &Error{Code: CodeNotFound}
	ErrInvalidValue         = &Error{Code: CodeInvalidValue}
	ErrBrokenReference      = &Error{Code: CodeBrokenReference}
	ErrInsufficientResource = &Error{Code: CodeInsufficientResource}
	ErrPersistence          = &Error{Code: CodePersistence}
	ErrContract             = &Error{Code: CodeContract}
)

// Errorf builds a classified error with a formatted cause.
func Errorf(code ErrorCode, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(code ErrorCode, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

// IsCode reports whether any error in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost classified error, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// storeError maps a backend failure: store.ErrNotFound becomes NOT_FOUND,
// anything else PERSISTENCE.
func storeError(op, collection, id string, err error) error {
	if err == nil {
		return nil
	}
	code := CodePersistence
	if errors.Is(err, store.ErrNotFound) {
		code = CodeNotFound
	}
	return &Error{Code: code, Op: op, Collection: collection, ID: id, Err: err}
}
