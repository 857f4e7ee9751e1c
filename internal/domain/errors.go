package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindFetch       ErrorKind = "fetch_error"
	KindValidation  ErrorKind = "validation_error"
	KindProvider    ErrorKind = "provider_error"
	KindPersistence ErrorKind = "persistence_error"
)

// Error carries the failure kind plus the user and stage it happened in.
type Error struct {
	Kind   ErrorKind
	Stage  Stage
	UserID string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Stage != "" {
		msg += " at " + string(e.Stage)
	}
	if e.UserID != "" {
		msg += " for user " + e.UserID
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func FetchError(err error) error { return &Error{Kind: KindFetch, Err: err} }

func ValidationError(format string, args ...any) error {
	return &Error{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

func ProviderError(err error) error { return &Error{Kind: KindProvider, Err: err} }

func PersistenceError(err error) error { return &Error{Kind: KindPersistence, Err: err} }

// AtStage tags err with the user and stage. Untyped errors become provider errors.
func AtStage(err error, userID string, stage Stage) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		cp := *de
		cp.UserID = userID
		cp.Stage = stage
		return &cp
	}
	return &Error{Kind: KindProvider, Stage: stage, UserID: userID, Err: err}
}

func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool { return KindOf(err) == kind }
