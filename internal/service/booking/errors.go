package booking

import "errors"

var ErrNotAvailable = errors.New("slot is outside the provider's availability")

type ValidationError struct {
	msg string
	err error
}

func (e *ValidationError) Error() string {
	return e.msg
}

func (e *ValidationError) Unwrap() error {
	return e.err
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

func wrapValidation(prefix string, err error) error {
	return &ValidationError{msg: prefix + ": " + err.Error(), err: err}
}
