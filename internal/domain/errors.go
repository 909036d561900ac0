package domain

import "errors"

// Error taxonomy of the orchestrator. No error leaves a session in an
// indeterminate state: a rejected transition keeps the prior state intact.
var (
	// ErrNotFound means the session or invite is unknown, usually because
	// it already ended. Clients clear local state on it.
	ErrNotFound = errors.New("not found")

	// ErrConflict is the store-level compare-and-swap failure: the stored
	// state advanced past the caller's expectation.
	ErrConflict = errors.New("state conflict")

	// ErrStaleSession is surfaced after a conflict survives one retry
	// against fresh state. Handlers treat it as a no-op, not a failure:
	// duplicate pushes and network retries are expected.
	ErrStaleSession = errors.New("stale session")

	// ErrAlreadyMember guards against inviting a user who already holds a
	// live participant row on the session.
	ErrAlreadyMember = errors.New("already a member")

	// ErrDuplicateInvite guards the one-pending-invite-per-target rule.
	ErrDuplicateInvite = errors.New("duplicate invite")

	// ErrForbidden means the identity/relationship precondition failed.
	// Fatal to the request, not to the session.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidTransition means the requested edge is not in the
	// transition table for the session kind.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrSessionFull means the participant cap would be exceeded.
	ErrSessionFull = errors.New("session full")
)
