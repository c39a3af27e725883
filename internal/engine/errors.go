package engine

// ValidationError is malformed or missing required input.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string { return e.Reason }

// ConflictError is a state-incompatible mutation, like editing the content of
// a mission that already left pending.
type ConflictError struct {
	Reason string
}

func (e ConflictError) Error() string { return e.Reason }

// AuthorizationError is a role the operation does not accept.
type AuthorizationError struct {
	Reason string
}

func (e AuthorizationError) Error() string { return e.Reason }
