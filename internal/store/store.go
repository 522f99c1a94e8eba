package store

import (
	"context"
	"errors"
	"time"

	"AlphaDrop/internal/model"
)

// ErrNotFound is returned when a participant or drop does not exist.
var ErrNotFound = errors.New("record not found")

// DropFilter narrows Drops. Zero fields match everything.
type DropFilter struct {
	Status model.DropStatus
	From   time.Time // ScheduledAt >= From
	Until  time.Time // ScheduledAt <= Until
	Desc   bool
	Limit  int
}

// Tx is a view of the store inside one transaction. Records returned are
// copies; changes become visible only through Put*/Insert* and commit.
type Tx interface {
	Participant(id int64) (*model.Participant, error)
	// Participants returns all participants in insertion order.
	Participants() ([]*model.Participant, error)
	PutParticipant(p *model.Participant) error

	Drop(id int64) (*model.Drop, error)
	Drops(f DropFilter) ([]*model.Drop, error)
	CountDrops() (int, error)
	InsertDrop(d *model.Drop) (int64, error)
	PutDrop(d *model.Drop) error

	AppendTrustEvent(evt *model.TrustEvent) error
	TrustEvents(participantID int64, limit int) ([]model.TrustEvent, error)
}

// Store is the authoritative record store. Update runs fn as one atomic
// read-modify-write: it commits when fn returns nil and rolls back otherwise.
type Store interface {
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
	Close() error
}

func matchDrop(d *model.Drop, f DropFilter) bool {
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && d.ScheduledAt.Before(f.From) {
		return false
	}
	if !f.Until.IsZero() && d.ScheduledAt.After(f.Until) {
		return false
	}
	return true
}
