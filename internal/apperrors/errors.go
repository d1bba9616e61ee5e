package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindMalformedReport            Kind = "MALFORMED_REPORT"
	KindStoreUnavailable           Kind = "STORE_UNAVAILABLE"
	KindConfirmationSourceMissing  Kind = "CONFIRMATION_SOURCE_MISSING"
	KindNotificationDeliveryFailed Kind = "NOTIFICATION_DELIVERY_FAILED"
	KindLifecycle                  Kind = "LIFECYCLE"
	KindInternal                   Kind = "INTERNAL"
)

// Error is a classified failure carrying an optional cause.
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

func (e *Error) Unwrap() error { return e.Err }

// New builds an unwrapped error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and message to err. A nil err yields nil.
func Wrap(err error, kind Kind, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

func MalformedReport(format string, args ...any) *Error {
	return New(KindMalformedReport, fmt.Sprintf(format, args...))
}

func StoreUnavailable(err error, op string) error {
	return Wrap(err, KindStoreUnavailable, op)
}

func ConfirmationSourceMissing(err error, source string) error {
	return Wrap(err, KindConfirmationSourceMissing, source)
}

func NotificationDeliveryFailed(err error, sink string) error {
	return Wrap(err, KindNotificationDeliveryFailed, sink)
}

func Lifecycle(err error, op string) error {
	return Wrap(err, KindLifecycle, op)
}

// KindOf returns the kind of the first classified error in the chain, or
// KindInternal when none is present.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
