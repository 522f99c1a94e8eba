package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"AlphaDrop/internal/engine"
	"AlphaDrop/internal/metrics"
	"AlphaDrop/internal/model"
	"AlphaDrop/internal/store"

	"github.com/robfig/cron/v3"
)

// Handler executes fired events. *engine.Engine implements it.
type Handler interface {
	Remind(ctx context.Context, dropID int64, kind model.EventKind, hoursBefore int) error
	AutoConfirm(ctx context.Context, dropID int64) (*model.Participant, error)
	Finalize(ctx context.Context, dropID int64) (*engine.FinalizeResult, error)
	DailyRollover(ctx context.Context) (*engine.RolloverReport, error)
	Drops(ctx context.Context, f store.DropFilter) ([]*model.Drop, error)
}

// Scheduler is the single timer authority: one-shot drop events and the
// daily rollover job share one cron instance.
type Scheduler struct {
	Cron    *cron.Cron
	Handler Handler
	Metrics *metrics.Metrics
	Opts    PlanOptions
	Ctx     context.Context

	now     func() time.Time
	mu      sync.Mutex
	entries map[string]cron.EntryID
	byDrop  map[int64][]string
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, h Handler, m *metrics.Metrics, opts PlanOptions) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(opts.Location),
			cron.WithChain(cron.Recover(cron.PrintfLogger(log.Default()))),
		),
		Handler: h,
		Metrics: m,
		Opts:    opts,
		Ctx:     ctx,
		now:     time.Now,
		entries: make(map[string]cron.EntryID),
		byDrop:  make(map[int64][]string),
	}
}

// RegisterDaily registers the daily window rollover.
func (s *Scheduler) RegisterDaily(spec string) error {
	if _, err := s.Cron.AddFunc(spec, s.dailyTask); err != nil {
		return fmt.Errorf("register daily rollover: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[INFO] scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Println("[INFO] scheduler stopped")
}

// Arm registers the drop's timetable. Events with the same ID replace the
// pending one; pending events of the drop that are no longer planned are removed.
func (s *Scheduler) Arm(d *model.Drop) {
	events := Plan(d, s.now(), s.Opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	keep := make(map[string]bool, len(events))
	for _, ev := range events {
		keep[ev.ID()] = true
	}
	for _, id := range s.byDrop[d.ID] {
		if !keep[id] {
			s.removeLocked(id)
		}
	}
	s.byDrop[d.ID] = nil
	for _, ev := range events {
		s.removeLocked(ev.ID())
		ev := ev
		s.entries[ev.ID()] = s.Cron.Schedule(onceSchedule{at: ev.At}, cron.FuncJob(func() { s.fire(ev) }))
		s.byDrop[d.ID] = append(s.byDrop[d.ID], ev.ID())
	}
	log.Printf("[INFO] drop %d: %d events armed", d.ID, len(events))
}

// Rearm arms every scheduled drop, typically at startup. Drops whose summary
// time passed while the process was down are finalized right away.
func (s *Scheduler) Rearm(ctx context.Context) (int, error) {
	drops, err := s.Handler.Drops(ctx, store.DropFilter{Status: model.StatusScheduled})
	if err != nil {
		return 0, fmt.Errorf("list scheduled drops: %w", err)
	}
	now := s.now()
	for _, d := range drops {
		summaryAt := d.ScheduledAt.Add(s.Opts.SummaryDelay)
		if !now.Before(summaryAt) {
			s.fire(Event{DropID: d.ID, Kind: model.EventSummary, Label: "summary", At: summaryAt})
			continue
		}
		s.Arm(d)
	}
	return len(drops), nil
}

// Pending returns the IDs of the drop's armed events.
func (s *Scheduler) Pending(dropID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.byDrop[dropID]...)
}

func (s *Scheduler) removeLocked(id string) {
	if entry, ok := s.entries[id]; ok {
		s.Cron.Remove(entry)
		delete(s.entries, id)
	}
}

func (s *Scheduler) forget(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := ev.ID()
	s.removeLocked(id)
	ids := s.byDrop[ev.DropID]
	for i, v := range ids {
		if v == id {
			s.byDrop[ev.DropID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byDrop[ev.DropID]) == 0 {
		delete(s.byDrop, ev.DropID)
	}
}

func (s *Scheduler) fire(ev Event) {
	defer s.forget(ev)
	log.Printf("[INFO] firing %s", ev.ID())

	var err error
	switch ev.Kind {
	case model.EventReminder, model.EventDayReminder, model.EventStart:
		err = s.Handler.Remind(s.Ctx, ev.DropID, ev.Kind, ev.HoursBefore)
	case model.EventAutoConfirm:
		_, err = s.Handler.AutoConfirm(s.Ctx, ev.DropID)
	case model.EventSummary:
		_, err = s.Handler.Finalize(s.Ctx, ev.DropID)
	default:
		err = fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	s.Metrics.EventFired(string(ev.Kind), engine.ResultLabel(err))
	if err != nil {
		log.Printf("[ERROR] event %s: %v", ev.ID(), err)
	}
}

func (s *Scheduler) dailyTask() {
	log.Println("[INFO] running daily rollover")
	if _, err := s.Handler.DailyRollover(s.Ctx); err != nil {
		log.Printf("[ERROR] daily rollover: %v", err)
	}
}
