package engine

import (
	"context"
	"fmt"
	"log"
	"sort"

	"AlphaDrop/internal/model"
	"AlphaDrop/internal/notifier"
	"AlphaDrop/internal/store"
	"AlphaDrop/internal/strategy"
)

const reminderTop = 3

// captureMinus1h stores the minus-1h forecast snapshot the first time it is asked for.
func (e *Engine) captureMinus1h(d *model.Drop, cands []strategy.Candidate) bool {
	if d.PredictedAtMinus1h != nil {
		return false
	}
	d.PredictedAtMinus1h = snapshot(cands)
	return true
}

// Remind posts a reminder (or the start announcement) with the current top
// candidates. Closed or unknown drops are skipped without error.
func (e *Engine) Remind(ctx context.Context, dropID int64, kind model.EventKind, hoursBefore int) error {
	var (
		d        *model.Drop
		top      []strategy.Candidate
		reserved []string
		skip     bool
	)
	err := e.store.Update(ctx, func(tx store.Tx) error {
		var err error
		if d, err = tx.Drop(dropID); err != nil {
			return dropErr(dropID, err)
		}
		if !d.Open() {
			skip = true
			return nil
		}
		today := e.today()
		ps, _, err := advanceAll(tx, today, e.Now())
		if err != nil {
			return err
		}
		cands := e.rank(d, today, ps)
		top = strategy.Top(cands, reminderTop)
		reserved = tagsOf(ps, d.Reserved)
		if kind == model.EventReminder && hoursBefore == 1 && e.captureMinus1h(d, cands) {
			return tx.PutDrop(d)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if skip {
		log.Printf("[INFO] drop %d is %s, skipping %s", dropID, d.Status, kind)
		return nil
	}
	start := kind == model.EventStart
	msgKind := model.MessageReminder
	if start {
		msgKind = model.MessageStart
	}
	e.notify(ctx, model.Message{
		Audience: d.Audience(),
		Kind:     msgKind,
		DropID:   d.ID,
		Text:     notifier.FormatReminder(d, top, reserved, start, e.Now(), e.opts.Location),
		Buttons:  notifier.ReserveButtons(d.ID),
	})
	return nil
}

// AutoConfirm runs at T-1h. It captures the minus-1h snapshot if no reminder
// did, and when nobody has reserved it assigns the single best candidate,
// bypassing the top-N gate. It returns the assigned participant, or nil.
func (e *Engine) AutoConfirm(ctx context.Context, dropID int64) (*model.Participant, error) {
	var (
		d        *model.Drop
		assigned *model.Participant
		skip     bool
	)
	err := e.store.Update(ctx, func(tx store.Tx) error {
		var err error
		if d, err = tx.Drop(dropID); err != nil {
			return dropErr(dropID, err)
		}
		if !d.Open() {
			skip = true
			return nil
		}
		today := e.today()
		ps, _, err := advanceAll(tx, today, e.Now())
		if err != nil {
			return err
		}
		cands := e.rank(d, today, ps)
		dirty := e.captureMinus1h(d, cands)
		if len(d.Reserved) == 0 && len(cands) > 0 {
			assigned = cands[0].Participant
			d.Reserved = append(d.Reserved, assigned.ID)
			dirty = true
		}
		if dirty {
			return tx.PutDrop(d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if skip {
		log.Printf("[INFO] drop %d is %s, skipping autoconfirm", dropID, d.Status)
		return nil, nil
	}
	if assigned == nil {
		return nil, nil
	}
	e.metrics.AutoAssignment()
	log.Printf("[INFO] drop %d: auto-assigned %s", dropID, assigned.DisplayTag())
	e.notify(ctx, model.Message{
		Audience: d.Audience(),
		Kind:     model.MessageAutoConfirm,
		DropID:   d.ID,
		Text:     notifier.FormatAutoConfirm(d, assigned),
		Buttons:  notifier.CancelButton(d.ID),
	})
	return assigned, nil
}

// RolloverReport summarizes a daily rollover.
type RolloverReport struct {
	Advanced     int
	Participants int
	Stale        []*model.Participant
}

// DailyRollover advances every window to today, posts the digest and pings
// participants whose profile is older than StaleAfter.
func (e *Engine) DailyRollover(ctx context.Context) (*RolloverReport, error) {
	rep := &RolloverReport{}
	var ps []*model.Participant
	err := e.store.Update(ctx, func(tx store.Tx) error {
		var err error
		ps, rep.Advanced, err = advanceAll(tx, e.today(), e.Now())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("daily rollover: %w", err)
	}
	rep.Participants = len(ps)
	e.metrics.WindowsRolled(rep.Advanced)
	log.Printf("[INFO] daily rollover: %d/%d windows advanced", rep.Advanced, len(ps))
	if len(ps) == 0 {
		return rep, nil
	}

	sorted := append([]*model.Participant(nil), ps...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Balance > sorted[j].Balance })
	e.notify(ctx, model.Message{
		Kind: model.MessageDailyDigest,
		Text: notifier.FormatDailyDigest(sorted),
	})

	if e.opts.StaleAfter > 0 {
		now := e.Now()
		for _, p := range ps {
			if p.LastProfileUpdate.IsZero() || now.Sub(p.LastProfileUpdate) >= e.opts.StaleAfter {
				rep.Stale = append(rep.Stale, p)
			}
		}
	}
	if len(rep.Stale) > 0 {
		e.notify(ctx, model.Message{
			Kind: model.MessageStalePing,
			Text: notifier.FormatStalePing(rep.Stale),
		})
	}
	return rep, nil
}
