package models

// The three error kinds every operation can fail with. Each carries a
// caller-visible reason; an error always aborts the whole operation.

type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string { return "authorization: " + e.Reason }

func NewAuthorizationError(reason string) error {
	return &AuthorizationError{Reason: reason}
}

type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

func NewValidationError(reason string) error {
	return &ValidationError{Reason: reason}
}

type StateError struct {
	Reason string
}

func (e *StateError) Error() string { return "state: " + e.Reason }

func NewStateError(reason string) error {
	return &StateError{Reason: reason}
}
