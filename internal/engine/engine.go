// Package engine runs the drop lifecycle: creation, reservations, outcomes,
// timer-driven reminders and finalization, on top of an injected store,
// clock and notification sink.
package engine

import (
	"context"
	"fmt"
	"time"

	"AlphaDrop/internal/calculator"
	"AlphaDrop/internal/metrics"
	"AlphaDrop/internal/model"
	"AlphaDrop/internal/store"
	"AlphaDrop/internal/strategy"
)

// Clock is the time authority.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Notifier is the fire-and-forget notification sink.
type Notifier interface {
	Notify(ctx context.Context, msg model.Message)
}

// Timers arms the timetable of a newly created drop.
type Timers interface {
	Arm(d *model.Drop)
}

// Options tunes the engine.
type Options struct {
	Location       *time.Location
	DefaultRate    int
	MinRate        int
	MaxRate        int
	MaxSlots       int
	ReserveGate    int
	PastTolerance  time.Duration
	RotationSignal strategy.RotationSignal
	StaleAfter     time.Duration
	// Audience receives group-wide messages (digest, stale ping) and is the
	// default for drops created without one.
	Audience model.Audience
}

// DefaultOptions mirrors the config defaults.
func DefaultOptions() Options {
	return Options{
		Location:       time.UTC,
		DefaultRate:    model.DefaultRate,
		MinRate:        0,
		MaxRate:        50,
		MaxSlots:       model.DefaultMaxSlots,
		ReserveGate:    3,
		PastTolerance:  time.Hour,
		RotationSignal: strategy.SignalOutcome,
		StaleAfter:     72 * time.Hour,
	}
}

type Engine struct {
	store    store.Store
	clock    Clock
	notifier Notifier
	metrics  *metrics.Metrics
	timers   Timers
	opts     Options
}

// New builds an engine. A nil notifier drops messages, nil metrics record nothing.
func New(st store.Store, clock Clock, n Notifier, m *metrics.Metrics, opts Options) *Engine {
	if clock == nil {
		clock = SystemClock
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.ReserveGate < 1 {
		opts.ReserveGate = 3
	}
	opts.MaxSlots = clampSlots(opts.MaxSlots)
	return &Engine{store: st, clock: clock, notifier: n, metrics: m, opts: opts}
}

// SetTimers attaches the scheduler that arms new drops.
func (e *Engine) SetTimers(t Timers) { e.timers = t }

// Location is the canonical timezone for all date arithmetic.
func (e *Engine) Location() *time.Location { return e.opts.Location }

// Now returns the clock time in the canonical timezone.
func (e *Engine) Now() time.Time { return e.clock.Now().In(e.opts.Location) }

func (e *Engine) today() time.Time { return calculator.Day(e.Now(), e.opts.Location) }

func (e *Engine) notify(ctx context.Context, msg model.Message) {
	if e.notifier == nil {
		return
	}
	if msg.Audience.ChatID == "" {
		msg.Audience = e.opts.Audience
	}
	e.notifier.Notify(ctx, msg)
}

func clampSlots(n int) int {
	if n == 0 {
		n = model.DefaultMaxSlots
	}
	if n < model.MinSlots {
		return model.MinSlots
	}
	if n > model.MaxSlots {
		return model.MaxSlots
	}
	return n
}

// advanceAll brings every window up to today inside tx and returns the
// participants in insertion order.
func advanceAll(tx store.Tx, today, now time.Time) ([]*model.Participant, int, error) {
	ps, err := tx.Participants()
	if err != nil {
		return nil, 0, fmt.Errorf("list participants: %w", err)
	}
	changed := 0
	for _, p := range ps {
		if calculator.AdvanceTo(p, today) {
			p.UpdatedAt = now
			if err := tx.PutParticipant(p); err != nil {
				return nil, 0, fmt.Errorf("save participant %d: %w", p.ID, err)
			}
			changed++
		}
	}
	return ps, changed, nil
}

// advanceOne loads one participant and brings its window up to today.
func advanceOne(tx store.Tx, id int64, today, now time.Time) (*model.Participant, error) {
	p, err := tx.Participant(id)
	if err != nil {
		return nil, participantErr(id, err)
	}
	if calculator.AdvanceTo(p, today) {
		p.UpdatedAt = now
		if err := tx.PutParticipant(p); err != nil {
			return nil, fmt.Errorf("save participant %d: %w", id, err)
		}
	}
	return p, nil
}

func (e *Engine) rank(d *model.Drop, today time.Time, ps []*model.Participant) []strategy.Candidate {
	return strategy.Rank(d.Requirement, d.ScheduledAt, today, ps, e.opts.RotationSignal)
}

func snapshot(cands []strategy.Candidate) model.Snapshot {
	s := make(model.Snapshot, len(cands))
	for _, c := range cands {
		s[c.Participant.ID] = c.Predicted
	}
	return s
}

func tagsOf(ps []*model.Participant, ids []int64) []string {
	byID := make(map[int64]*model.Participant, len(ps))
	for _, p := range ps {
		byID[p.ID] = p
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p.DisplayTag())
		} else {
			out = append(out, (&model.Participant{ID: id}).DisplayTag())
		}
	}
	return out
}
