package registry

import "errors"

// modelNotFoundError signals a name absent from the registry (404).
type modelNotFoundError struct{ name string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.name }

// ErrModelNotFound returns an error for a name that is not registered.
func ErrModelNotFound(name string) error { return modelNotFoundError{name: name} }

// IsModelNotFound reports whether the error indicates a missing model name.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}

// duplicateRegistrationError signals a second registration under one name.
type duplicateRegistrationError struct{ name string }

func (e duplicateRegistrationError) Error() string { return "model already registered: " + e.name }

// ErrDuplicateRegistration returns an error for a name registered twice.
func ErrDuplicateRegistration(name string) error { return duplicateRegistrationError{name: name} }

// IsDuplicateRegistration reports whether err indicates a duplicate name.
func IsDuplicateRegistration(err error) bool {
	var e duplicateRegistrationError
	return errors.As(err, &e)
}

// registrationClosedError signals Register after Seal.
type registrationClosedError struct{ name string }

func (e registrationClosedError) Error() string { return "registration closed: " + e.name }

// ErrRegistrationClosed returns an error for a registration after startup.
func ErrRegistrationClosed(name string) error { return registrationClosedError{name: name} }

// IsRegistrationClosed reports whether err indicates a late registration.
func IsRegistrationClosed(err error) bool {
	var e registrationClosedError
	return errors.As(err, &e)
}
