package core

import (
	"errors"
	"fmt"

	"github.com/vovakirdan/wiredm-server/internal/store"
)

// Kind classifies a domain failure. Transports map it to a status code.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindAuthorization Kind = "authorization"
	KindStore         Kind = "store"
)

var (
	ErrEmptyMessage     = errors.New("message has neither body nor image")
	ErrSelfConversation = errors.New("cannot message yourself")
	ErrUnknownScope     = errors.New("unknown delete scope")
	ErrEmptyEmoji       = errors.New("emoji is required")
	ErrNotParticipant   = errors.New("not a participant of this conversation")
	ErrNotSender        = errors.New("only the sender can delete for everyone")
)

// Error is the failure result of a core operation.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind carried by err, KindStore for any other non-nil
// error and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return coreErr.Kind
	}
	return KindStore
}

func validationError(err error) *Error {
	return &Error{Kind: KindValidation, Err: err}
}

func authorizationError(err error) *Error {
	return &Error{Kind: KindAuthorization, Err: err}
}

func notFoundError(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// storeError classifies a storage failure; store.ErrNotFound becomes KindNotFound.
func storeError(op string, err error) *Error {
	if errors.Is(err, store.ErrNotFound) {
		return &Error{Kind: KindNotFound, Msg: op, Err: err}
	}
	return &Error{Kind: KindStore, Msg: op, Err: err}
}
