package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sort"
	"time"

	"AlphaDrop/internal/calculator"
	"AlphaDrop/internal/model"
	"AlphaDrop/internal/notifier"
	"AlphaDrop/internal/store"
	"AlphaDrop/internal/strategy"
	"AlphaDrop/internal/trust"
)

// DropRequest describes a drop to create.
type DropRequest struct {
	ScheduledAt time.Time
	Requirement int
	// ReminderPlan lists extra hour offsets before start; nil keeps the default plan.
	ReminderPlan []int
	MaxSlots     int
	Audience     model.Audience
	CreatedBy    int64
	Note         string
}

// NormalizePlan keeps offsets >= 1, removes duplicates and sorts them
// descending. An empty result is nil.
func NormalizePlan(plan []int) []int {
	var out []int
	for _, h := range plan {
		if h >= 1 && !slices.Contains(out, h) {
			out = append(out, h)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

// CreateDrop validates and stores a new drop, capturing the creation-time
// forecast snapshot, then arms its timers.
func (e *Engine) CreateDrop(ctx context.Context, req DropRequest) (*model.Drop, error) {
	now := e.Now()
	if req.Requirement <= 0 {
		return nil, fmt.Errorf("requirement %d must be positive: %w", req.Requirement, ErrInvalidSchedule)
	}
	if req.ScheduledAt.IsZero() {
		return nil, fmt.Errorf("missing start time: %w", ErrInvalidSchedule)
	}
	if req.ScheduledAt.Before(now.Add(-e.opts.PastTolerance)) {
		return nil, fmt.Errorf("start %s is in the past: %w", req.ScheduledAt.Format(time.RFC3339), ErrInvalidSchedule)
	}
	slots := e.opts.MaxSlots
	if req.MaxSlots != 0 {
		slots = clampSlots(req.MaxSlots)
	}
	audience := req.Audience
	if audience.ChatID == "" {
		audience = e.opts.Audience
	}

	d := &model.Drop{
		ScheduledAt:  req.ScheduledAt.In(e.opts.Location),
		Requirement:  req.Requirement,
		Status:       model.StatusScheduled,
		MaxSlots:     slots,
		Reserved:     []int64{},
		Picked:       []int64{},
		Failed:       []int64{},
		ReminderPlan: NormalizePlan(req.ReminderPlan),
		ChatID:       audience.ChatID,
		ThreadID:     audience.ThreadID,
		CreatedBy:    req.CreatedBy,
		Note:         req.Note,
		CreatedAt:    now,
	}
	err := e.store.Update(ctx, func(tx store.Tx) error {
		ps, _, err := advanceAll(tx, e.today(), now)
		if err != nil {
			return err
		}
		d.PredictedAtCreate = snapshot(e.rank(d, e.today(), ps))
		id, err := tx.InsertDrop(d)
		if err != nil {
			return fmt.Errorf("insert drop: %w", err)
		}
		d.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] drop %d created: %s, requirement %d, slots %d", d.ID, d.ScheduledAt.Format(time.RFC3339), d.Requirement, d.MaxSlots)

	if e.timers != nil {
		e.timers.Arm(d)
	}
	e.notify(ctx, model.Message{
		Audience: d.Audience(),
		Kind:     model.MessageDropCreated,
		DropID:   d.ID,
		Text:     notifier.FormatDropCreated(d, e.opts.Location),
	})
	return d, nil
}

// CancelDrop moves a scheduled drop to cancelled. Pending timers become no-ops.
func (e *Engine) CancelDrop(ctx context.Context, dropID int64) (*model.Drop, error) {
	var d *model.Drop
	err := e.store.Update(ctx, func(tx store.Tx) error {
		var err error
		if d, err = tx.Drop(dropID); err != nil {
			return dropErr(dropID, err)
		}
		if !d.Open() {
			return fmt.Errorf("drop %d is %s: %w", dropID, d.Status, ErrDropClosed)
		}
		d.Status = model.StatusCancelled
		return tx.PutDrop(d)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] drop %d cancelled", dropID)
	e.notify(ctx, model.Message{
		Audience: d.Audience(),
		Kind:     model.MessageDropCanceled,
		DropID:   d.ID,
		Text:     notifier.FormatCancelled(d, e.opts.Location),
	})
	return d, nil
}

// Reserve claims a slot for pid. Eligibility is the live top-N ranking for the
// drop; the gate check, capacity check and append run in one transaction.
func (e *Engine) Reserve(ctx context.Context, dropID, pid int64) (*model.Drop, error) {
	var (
		d *model.Drop
		p *model.Participant
	)
	err := e.store.Update(ctx, func(tx store.Tx) error {
		var err error
		if d, err = tx.Drop(dropID); err != nil {
			return dropErr(dropID, err)
		}
		if !d.Open() {
			return fmt.Errorf("drop %d is %s: %w", dropID, d.Status, ErrDropClosed)
		}
		if p, err = tx.Participant(pid); err != nil {
			return participantErr(pid, err)
		}
		today := e.today()
		ps, _, err := advanceAll(tx, today, e.Now())
		if err != nil {
			return err
		}
		top := strategy.Top(e.rank(d, today, ps), e.opts.ReserveGate)
		if !strategy.Contains(top, pid) {
			return fmt.Errorf("participant %d on drop %d: %w", pid, dropID, ErrNotEligible)
		}
		if slices.Contains(d.Reserved, pid) {
			return fmt.Errorf("participant %d on drop %d: %w", pid, dropID, ErrAlreadyReserved)
		}
		if len(d.Reserved) >= d.MaxSlots {
			return fmt.Errorf("drop %d has %d/%d: %w", dropID, len(d.Reserved), d.MaxSlots, ErrSlotsFull)
		}
		d.Reserved = append(d.Reserved, pid)
		return tx.PutDrop(d)
	})
	e.metrics.Reservation(ResultLabel(err))
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] drop %d: %s reserved (%d/%d)", dropID, p.DisplayTag(), len(d.Reserved), d.MaxSlots)
	e.notify(ctx, model.Message{
		Audience: d.Audience(),
		Kind:     model.MessageReserved,
		DropID:   d.ID,
		Text:     notifier.FormatReserved(d, p),
	})
	return d, nil
}

// CancelReservation releases pid's slot.
func (e *Engine) CancelReservation(ctx context.Context, dropID, pid int64) (*model.Drop, error) {
	var (
		d *model.Drop
		p *model.Participant
	)
	err := e.store.Update(ctx, func(tx store.Tx) error {
		var err error
		if d, err = tx.Drop(dropID); err != nil {
			return dropErr(dropID, err)
		}
		if !d.Open() {
			return fmt.Errorf("drop %d is %s: %w", dropID, d.Status, ErrDropClosed)
		}
		if !model.RemoveID(&d.Reserved, pid) {
			return fmt.Errorf("participant %d on drop %d: %w", pid, dropID, ErrNotReserved)
		}
		if p, err = tx.Participant(pid); err != nil && !errors.Is(err, store.ErrNotFound) {
			return participantErr(pid, err)
		}
		return tx.PutDrop(d)
	})
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = &model.Participant{ID: pid}
	}
	log.Printf("[INFO] drop %d: %s cancelled reservation", dropID, p.DisplayTag())
	e.notify(ctx, model.Message{
		Audience: d.Audience(),
		Kind:     model.MessageUnreserved,
		DropID:   d.ID,
		Text:     notifier.FormatUnreserved(d, p),
	})
	return d, nil
}

// RecordPickup adds pid to the drop's picked set once. The first time it also
// zeroes today's window slot, stamps LastOutcomeDate and counts the pickup.
// A previous failure report for pid is replaced.
func (e *Engine) RecordPickup(ctx context.Context, dropID, pid int64) (*model.Drop, error) {
	return e.recordOutcome(ctx, dropID, pid, true)
}

// RecordFailure adds pid to the drop's failed set once, replacing a previous
// pickup report for pid.
func (e *Engine) RecordFailure(ctx context.Context, dropID, pid int64) (*model.Drop, error) {
	return e.recordOutcome(ctx, dropID, pid, false)
}

func (e *Engine) recordOutcome(ctx context.Context, dropID, pid int64, picked bool) (*model.Drop, error) {
	var d *model.Drop
	err := e.store.Update(ctx, func(tx store.Tx) error {
		var err error
		if d, err = tx.Drop(dropID); err != nil {
			return dropErr(dropID, err)
		}
		if !d.Open() {
			return fmt.Errorf("drop %d is %s: %w", dropID, d.Status, ErrDropClosed)
		}
		now := e.Now()
		p, err := advanceOne(tx, pid, e.today(), now)
		if err != nil {
			return err
		}
		set, other := &d.Failed, &d.Picked
		if picked {
			set, other = &d.Picked, &d.Failed
		}
		if !model.AddID(set, pid) {
			return nil
		}
		model.RemoveID(other, pid)
		if picked {
			calculator.RecordPickup(p, e.today())
			p.LastOutcomeDate = e.today()
			p.TakenCount++
		} else {
			p.FailCount++
		}
		p.UpdatedAt = now
		if err := tx.PutParticipant(p); err != nil {
			return fmt.Errorf("save participant %d: %w", pid, err)
		}
		return tx.PutDrop(d)
	})
	if err != nil {
		return nil, err
	}
	outcome := "failed"
	if picked {
		outcome = "picked"
	}
	e.metrics.Outcome(outcome)
	log.Printf("[INFO] drop %d: participant %d reported %s", dropID, pid, outcome)
	return d, nil
}

// FinalizeResult reports what a Finalize call did.
type FinalizeResult struct {
	Drop    *model.Drop
	Applied bool
	Events  []model.TrustEvent
}

// Finalize closes the drop and applies trust self-learning exactly once. The
// SummaryPosted guard is checked and set in the same transaction as the trust
// updates, so duplicate or concurrent calls are no-ops.
func (e *Engine) Finalize(ctx context.Context, dropID int64) (*FinalizeResult, error) {
	res := &FinalizeResult{}
	var picked, failed []string
	err := e.store.Update(ctx, func(tx store.Tx) error {
		res.Events = nil
		res.Applied = false
		d, err := tx.Drop(dropID)
		if err != nil {
			return dropErr(dropID, err)
		}
		res.Drop = d
		if d.SummaryPosted || d.Status == model.StatusCancelled {
			return nil
		}
		now := e.Now()
		d.Status = model.StatusFinished

		order, byID := trust.Group(trust.Evaluate(d))
		for _, id := range order {
			p, err := tx.Participant(id)
			if errors.Is(err, store.ErrNotFound) {
				log.Printf("[WARN] finalize drop %d: participant %d not found, skipping trust", dropID, id)
				continue
			}
			if err != nil {
				return participantErr(id, err)
			}
			before := p.Trust
			p.Trust = trust.Apply(before, byID[id])
			p.UpdatedAt = now
			if err := tx.PutParticipant(p); err != nil {
				return fmt.Errorf("save participant %d: %w", id, err)
			}
			for _, adj := range byID[id] {
				evt := model.TrustEvent{
					DropID:        dropID,
					ParticipantID: id,
					Rule:          adj.Rule,
					Delta:         adj.Delta,
					TrustBefore:   before,
					TrustAfter:    p.Trust,
					At:            now,
				}
				if err := tx.AppendTrustEvent(&evt); err != nil {
					return fmt.Errorf("append trust event: %w", err)
				}
				res.Events = append(res.Events, evt)
			}
		}
		d.SummaryPosted = true
		if err := tx.PutDrop(d); err != nil {
			return err
		}
		ps, err := tx.Participants()
		if err != nil {
			return err
		}
		picked, failed = tagsOf(ps, d.Picked), tagsOf(ps, d.Failed)
		res.Applied = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !res.Applied {
		log.Printf("[INFO] finalize drop %d: already done or cancelled, skipping", dropID)
		return res, nil
	}
	for _, evt := range res.Events {
		log.Printf("[TRUST] drop %d participant %d %s %+d (%d -> %d)", evt.DropID, evt.ParticipantID, evt.Rule, evt.Delta, evt.TrustBefore, evt.TrustAfter)
		e.metrics.TrustAdjusted(string(evt.Rule))
	}
	e.metrics.DropFinalized()
	e.notify(ctx, model.Message{
		Audience: res.Drop.Audience(),
		Kind:     model.MessageSummary,
		DropID:   dropID,
		Text:     notifier.FormatSummary(res.Drop, picked, failed, e.opts.Location),
	})
	return res, nil
}
