package source

import (
	"errors"
	"fmt"
)

// ErrNotFound marks a fetch against a resource that does not exist. It
// is carried as the cause of a FetchError.
var ErrNotFound = errors.New("resource not found")

// FetchError reports a failed Load or LoadIfModified. The current
// service instance is left untouched when one occurs.
type FetchError struct {
	Resource string
	Op       string
	Status   int
	Cause    error
}

func NewFetchError(resource, op string, status int, cause error) *FetchError {
	return &FetchError{Resource: resource, Op: op, Status: status, Cause: cause}
}

func (e *FetchError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("fetch %s", e.Resource)
	if e.Op != "" {
		msg = fmt.Sprintf("%s %s", e.Op, e.Resource)
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.Status)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Cause)
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsFetchError reports whether err is or wraps a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
