package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"AlphaDrop/internal/calculator"
	"AlphaDrop/internal/model"
	"AlphaDrop/internal/store"
	"AlphaDrop/internal/strategy"
)

// ProfileUpdate carries optional self-reported changes. Nil fields are left alone.
type ProfileUpdate struct {
	ID             int64
	Tag            string
	Rate           *int
	Points         *int
	ReportedPickup *time.Time
}

// UpdateProfile creates the participant on first contact and applies the
// given changes. A rate is applied before a points snapshot so the
// reconstruction uses the new rate.
func (e *Engine) UpdateProfile(ctx context.Context, u ProfileUpdate) (*model.Participant, error) {
	var p *model.Participant
	err := e.store.Update(ctx, func(tx store.Tx) error {
		var err error
		p, err = e.loadOrCreate(tx, u.ID, u.Tag)
		if err != nil {
			return err
		}
		today := e.today()
		if u.Rate != nil {
			calculator.SetRate(p, *u.Rate, e.opts.MinRate, e.opts.MaxRate)
		}
		if u.Points != nil {
			calculator.SetBalanceSnapshot(p, *u.Points, today)
		}
		if u.ReportedPickup != nil {
			p.LastReportedPickup = calculator.Day(*u.ReportedPickup, e.opts.Location)
		}
		if u.Rate != nil || u.Points != nil || u.ReportedPickup != nil {
			p.LastProfileUpdate = today
		}
		p.UpdatedAt = e.Now()
		return tx.PutParticipant(p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Touch registers a participant on first contact and refreshes its tag.
func (e *Engine) Touch(ctx context.Context, id int64, tag string) (*model.Participant, error) {
	return e.UpdateProfile(ctx, ProfileUpdate{ID: id, Tag: tag})
}

// SetRate changes a participant's daily rate.
func (e *Engine) SetRate(ctx context.Context, id int64, rate int) (*model.Participant, error) {
	return e.UpdateProfile(ctx, ProfileUpdate{ID: id, Rate: &rate})
}

// SetBalanceSnapshot replaces the window with one that sums to points.
func (e *Engine) SetBalanceSnapshot(ctx context.Context, id int64, points int) (*model.Participant, error) {
	return e.UpdateProfile(ctx, ProfileUpdate{ID: id, Points: &points})
}

func (e *Engine) loadOrCreate(tx store.Tx, id int64, tag string) (*model.Participant, error) {
	today, now := e.today(), e.Now()
	p, err := tx.Participant(id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		p = model.NewParticipant(id, tag, today)
		p.Rate = e.opts.DefaultRate
		p.CreatedAt = now
	case err != nil:
		return nil, participantErr(id, err)
	default:
		calculator.AdvanceTo(p, today)
		if tag != "" {
			p.Tag = tag
		}
	}
	return p, nil
}

// AdvanceToToday backfills a participant's window up to today.
func (e *Engine) AdvanceToToday(ctx context.Context, id int64) (*model.Participant, error) {
	var p *model.Participant
	err := e.store.Update(ctx, func(tx store.Tx) error {
		var err error
		p, err = advanceOne(tx, id, e.today(), e.Now())
		return err
	})
	return p, err
}

// Project forecasts a participant's balance on target's calendar day.
func (e *Engine) Project(ctx context.Context, id int64, target time.Time) (int, error) {
	var predicted int
	err := e.store.Update(ctx, func(tx store.Tx) error {
		today := e.today()
		p, err := advanceOne(tx, id, today, e.Now())
		if err != nil {
			return err
		}
		predicted = calculator.ProjectTo(p, today, target)
		return nil
	})
	return predicted, err
}

// Rank orders every participant for a requirement due on target. No
// participants yields an empty ranking.
func (e *Engine) Rank(ctx context.Context, requirement int, target time.Time) ([]strategy.Candidate, error) {
	var cands []strategy.Candidate
	err := e.store.Update(ctx, func(tx store.Tx) error {
		today := e.today()
		ps, _, err := advanceAll(tx, today, e.Now())
		if err != nil {
			return err
		}
		cands = strategy.Rank(requirement, target, today, ps, e.opts.RotationSignal)
		return nil
	})
	return cands, err
}

// RankDrop ranks every participant for a stored drop.
func (e *Engine) RankDrop(ctx context.Context, dropID int64) (*model.Drop, []strategy.Candidate, error) {
	var (
		d     *model.Drop
		cands []strategy.Candidate
	)
	err := e.store.Update(ctx, func(tx store.Tx) error {
		var err error
		if d, err = tx.Drop(dropID); err != nil {
			return dropErr(dropID, err)
		}
		today := e.today()
		ps, _, err := advanceAll(tx, today, e.Now())
		if err != nil {
			return err
		}
		cands = e.rank(d, today, ps)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return d, cands, nil
}

// Participant returns a participant with its window advanced to today.
func (e *Engine) Participant(ctx context.Context, id int64) (*model.Participant, error) {
	return e.AdvanceToToday(ctx, id)
}

// Participants returns everyone in registration order.
func (e *Engine) Participants(ctx context.Context) ([]*model.Participant, error) {
	var ps []*model.Participant
	err := e.store.Update(ctx, func(tx store.Tx) error {
		var err error
		ps, _, err = advanceAll(tx, e.today(), e.Now())
		return err
	})
	return ps, err
}

// Drop returns a stored drop.
func (e *Engine) Drop(ctx context.Context, id int64) (*model.Drop, error) {
	var d *model.Drop
	err := e.store.View(ctx, func(tx store.Tx) error {
		var err error
		if d, err = tx.Drop(id); err != nil {
			return dropErr(id, err)
		}
		return nil
	})
	return d, err
}

// Drops lists drops matching f.
func (e *Engine) Drops(ctx context.Context, f store.DropFilter) ([]*model.Drop, error) {
	var ds []*model.Drop
	err := e.store.View(ctx, func(tx store.Tx) error {
		var err error
		ds, err = tx.Drops(f)
		return err
	})
	return ds, err
}

// Upcoming lists scheduled drops from the start of today on, soonest first.
func (e *Engine) Upcoming(ctx context.Context) ([]*model.Drop, error) {
	return e.Drops(ctx, store.DropFilter{Status: model.StatusScheduled, From: e.today()})
}

// NextDrop returns the next scheduled drop that has not started yet.
func (e *Engine) NextDrop(ctx context.Context) (*model.Drop, error) {
	ds, err := e.Drops(ctx, store.DropFilter{Status: model.StatusScheduled, From: e.Now(), Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(ds) == 0 {
		return nil, fmt.Errorf("no upcoming drop: %w", ErrUnknownDrop)
	}
	return ds[0], nil
}

// CurrentDrop returns the most recent scheduled drop that has already started.
// Chat outcome reports attach to it.
func (e *Engine) CurrentDrop(ctx context.Context) (*model.Drop, error) {
	ds, err := e.Drops(ctx, store.DropFilter{Status: model.StatusScheduled, Until: e.Now(), Desc: true, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(ds) == 0 {
		return nil, fmt.Errorf("no drop in progress: %w", ErrUnknownDrop)
	}
	return ds[0], nil
}

// ReportPickup records a chat "took it" report. With a drop in progress it is
// a RecordPickup on that drop; otherwise only the window and the reported
// pickup date change.
func (e *Engine) ReportPickup(ctx context.Context, pid int64) (*model.Drop, *model.Participant, error) {
	d, err := e.CurrentDrop(ctx)
	if err == nil {
		if d, err = e.RecordPickup(ctx, d.ID, pid); err != nil {
			return nil, nil, err
		}
		p, err := e.Participant(ctx, pid)
		return d, p, err
	}
	if !errors.Is(err, ErrUnknownDrop) {
		return nil, nil, err
	}

	var p *model.Participant
	err = e.store.Update(ctx, func(tx store.Tx) error {
		today := e.today()
		var err error
		if p, err = advanceOne(tx, pid, today, e.Now()); err != nil {
			return err
		}
		calculator.RecordPickup(p, today)
		p.LastReportedPickup = today
		p.UpdatedAt = e.Now()
		return tx.PutParticipant(p)
	})
	if err != nil {
		return nil, nil, err
	}
	return nil, p, nil
}

// ReportFailure records a chat failure report against the drop in progress.
func (e *Engine) ReportFailure(ctx context.Context, pid int64) (*model.Drop, error) {
	d, err := e.CurrentDrop(ctx)
	if err != nil {
		return nil, err
	}
	return e.RecordFailure(ctx, d.ID, pid)
}

// TrustHistory returns the newest trust events of a participant.
func (e *Engine) TrustHistory(ctx context.Context, id int64, limit int) ([]model.TrustEvent, error) {
	var evts []model.TrustEvent
	err := e.store.View(ctx, func(tx store.Tx) error {
		var err error
		evts, err = tx.TrustEvents(id, limit)
		return err
	})
	return evts, err
}

// Stats summarizes the group.
func (e *Engine) Stats(ctx context.Context) (model.Stats, error) {
	var s model.Stats
	err := e.store.View(ctx, func(tx store.Tx) error {
		n, err := tx.CountDrops()
		if err != nil {
			return err
		}
		ps, err := tx.Participants()
		if err != nil {
			return err
		}
		s.Drops = n
		s.Participants = len(ps)
		if len(ps) == 0 {
			return nil
		}
		sorted := append([]*model.Participant(nil), ps...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TakenCount > sorted[j].TakenCount })
		if sorted[0].TakenCount > 0 {
			s.TopTaker = sorted[0]
		}
		total := 0
		for _, p := range ps {
			total += p.Rate
		}
		s.AvgRate = float64(total) / float64(len(ps))
		return nil
	})
	return s, err
}
