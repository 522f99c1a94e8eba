package model

import (
	"slices"
	"time"
)

// DropStatus is the lifecycle state of a drop.
type DropStatus string

const (
	StatusScheduled DropStatus = "scheduled"
	StatusFinished  DropStatus = "finished"
	StatusCancelled DropStatus = "cancelled"
)

const (
	DefaultMaxSlots = 3
	MinSlots        = 1
	MaxSlots        = 5
)

// Snapshot maps participant id to predicted balance. Captured once, never recomputed.
type Snapshot map[int64]int

// Drop is a time-boxed opportunity requiring a resource threshold.
type Drop struct {
	ID           int64      `json:"id"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	Requirement  int        `json:"requirement"`
	Status       DropStatus `json:"status"`
	MaxSlots     int        `json:"max_slots"`
	Reserved     []int64    `json:"reserved"`
	Picked       []int64    `json:"picked"`
	Failed       []int64    `json:"failed"`
	ReminderPlan []int      `json:"reminder_plan,omitempty"` // hours before start, nil means default

	PredictedAtCreate  Snapshot `json:"predicted_at_create,omitempty"`
	PredictedAtMinus1h Snapshot `json:"predicted_at_minus1h,omitempty"`
	SummaryPosted      bool     `json:"summary_posted"`

	ChatID    string    `json:"chat_id,omitempty"`
	ThreadID  int64     `json:"thread_id,omitempty"`
	CreatedBy int64     `json:"created_by,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy.
func (d *Drop) Clone() *Drop {
	c := *d
	c.Reserved = slices.Clone(d.Reserved)
	c.Picked = slices.Clone(d.Picked)
	c.Failed = slices.Clone(d.Failed)
	c.ReminderPlan = slices.Clone(d.ReminderPlan)
	if d.PredictedAtCreate != nil {
		c.PredictedAtCreate = make(Snapshot, len(d.PredictedAtCreate))
		for k, v := range d.PredictedAtCreate {
			c.PredictedAtCreate[k] = v
		}
	}
	if d.PredictedAtMinus1h != nil {
		c.PredictedAtMinus1h = make(Snapshot, len(d.PredictedAtMinus1h))
		for k, v := range d.PredictedAtMinus1h {
			c.PredictedAtMinus1h[k] = v
		}
	}
	return &c
}

// Open reports whether the drop still accepts reservations and outcomes.
func (d *Drop) Open() bool { return d.Status == StatusScheduled }

// Audience returns where notifications about this drop go.
func (d *Drop) Audience() Audience {
	return Audience{ChatID: d.ChatID, ThreadID: d.ThreadID}
}

// AddID appends id to set unless present. Reports whether it was added.
func AddID(set *[]int64, id int64) bool {
	if slices.Contains(*set, id) {
		return false
	}
	*set = append(*set, id)
	return true
}

// RemoveID deletes id from set. Reports whether it was present.
func RemoveID(set *[]int64, id int64) bool {
	i := slices.Index(*set, id)
	if i < 0 {
		return false
	}
	*set = slices.Delete(*set, i, i+1)
	return true
}
