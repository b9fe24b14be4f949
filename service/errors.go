package service

import (
	"fmt"
	"time"
)

// NotReadyError reports a read that timed out before the first
// instance was installed.
type NotReadyError struct {
	Service string
	Waited  time.Duration
	Cause   error
}

func (e *NotReadyError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("service %s has no instance after %s", e.Service, e.Waited)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Cause)
	}
	return msg
}

func (e *NotReadyError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
