package election

import (
	"errors"
	"fmt"

	"roomleader/internal/session"
)

type Kind string

const (
	KindAuthorization Kind = "AUTHORIZATION"
	KindState         Kind = "STATE"
	KindNotFound      Kind = "NOT_FOUND"
	KindValidation    Kind = "VALIDATION"
	KindInternal      Kind = "INTERNAL"
)

// Error is a rejection the caller can act on. Anything else that escapes
// the controller is an internal failure.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrRoomNotFound = &Error{KindNotFound, "room not found"}

	ErrNotMember      = &Error{KindAuthorization, "you are not a member of this room"}
	ErrNotManager     = &Error{KindAuthorization, "only the host or leader can do that"}
	ErrNotParticipant = &Error{KindAuthorization, "you are not taking part in this election"}
	ErrNotCandidate   = &Error{KindAuthorization, "you are not a candidate in this game"}

	ErrNotElecting         = &Error{KindState, "room is not electing a leader"}
	ErrWrongPhase          = &Error{KindState, "action not allowed in the current phase"}
	ErrNotAllConnected     = &Error{KindState, "every member must be connected to start"}
	ErrAlreadyVoted        = &Error{KindState, "you have already voted"}
	ErrGameAlreadySelected = &Error{KindState, "a game has already been selected"}
	ErrDuplicateSubmission = &Error{KindState, "you have already submitted a result"}

	ErrUnknownGame      = &Error{KindValidation, "unknown game type"}
	ErrInvalidDeviation = &Error{KindValidation, "deviation must be a finite non-negative number"}
	ErrInvalidCommand   = &Error{KindValidation, "invalid command"}
)

// wrongPhase keeps ErrWrongPhase matchable while telling the caller where
// the session actually is.
func wrongPhase(got session.Phase, want ...session.Phase) error {
	return fmt.Errorf("%w: phase is %s, need %v", ErrWrongPhase, got, want)
}

// KindOf classifies err. Errors that are not *Error are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage is what the caller is allowed to see for err.
func PublicMessage(err error) string {
	if KindOf(err) == KindInternal {
		return "internal error"
	}
	return err.Error()
}
