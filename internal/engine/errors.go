package engine

import "fmt"

// ValidationError flags malformed input: an unknown enum value, a
// reason below the minimum length, a missing required field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// AuthorizationError flags a role or firm-scope violation.
type AuthorizationError struct {
	ActorID string
	Reason  string
}

func (e AuthorizationError) Error() string {
	return fmt.Sprintf("actor %s: %s", e.ActorID, e.Reason)
}

// TransitionError reports the attempted transition together with the
// actual current state so the caller can re-sync before retrying.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Entity, e.From, e.To)
}

// ConflictError means a conditional update lost a race: the row exists
// but no longer holds the expected state. Distinct from not-found so a
// client can refetch and retry instead of giving up.
type ConflictError struct {
	Entity   string
	ID       int64
	Expected string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %d no longer in state %s", e.Entity, e.ID, e.Expected)
}

// UpstreamError wraps a failed or malformed external provider call.
type UpstreamError struct {
	Op  string
	Err error
}

func (e UpstreamError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e UpstreamError) Unwrap() error { return e.Err }
