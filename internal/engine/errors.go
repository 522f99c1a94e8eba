package engine

import (
	"errors"
	"fmt"

	"AlphaDrop/internal/store"
)

var (
	ErrNotEligible        = errors.New("participant is not among the top candidates")
	ErrAlreadyReserved    = errors.New("participant already reserved this drop")
	ErrNotReserved        = errors.New("participant has no reservation on this drop")
	ErrSlotsFull          = errors.New("all reservation slots are taken")
	ErrInvalidSchedule    = errors.New("invalid drop schedule")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrUnknownDrop        = errors.New("unknown drop")
	ErrDropClosed         = errors.New("drop is no longer scheduled")
)

// ResultLabel maps an operation error to a short metrics/log label.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, ErrAlreadyReserved):
		return "already_reserved"
	case errors.Is(err, ErrNotReserved):
		return "not_reserved"
	case errors.Is(err, ErrSlotsFull):
		return "slots_full"
	case errors.Is(err, ErrInvalidSchedule):
		return "invalid_schedule"
	case errors.Is(err, ErrUnknownParticipant):
		return "unknown_participant"
	case errors.Is(err, ErrUnknownDrop):
		return "unknown_drop"
	case errors.Is(err, ErrDropClosed):
		return "closed"
	default:
		return "error"
	}
}

func dropErr(id int64, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("drop %d: %w", id, ErrUnknownDrop)
	}
	return fmt.Errorf("load drop %d: %w", id, err)
}

func participantErr(id int64, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("participant %d: %w", id, ErrUnknownParticipant)
	}
	return fmt.Errorf("load participant %d: %w", id, err)
}
