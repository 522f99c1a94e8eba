package scheduler

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"AlphaDrop/internal/engine"
	"AlphaDrop/internal/model"
)

// PlanOptions holds the default timetable settings.
type PlanOptions struct {
	DefaultOffsets  []int
	DayReminderHour int
	SummaryDelay    time.Duration
	Location        *time.Location
}

// Event is one pending timer of a drop.
type Event struct {
	DropID      int64
	Kind        model.EventKind
	Label       string
	HoursBefore int
	At          time.Time
}

// ID identifies the event by drop, label and fire time.
func (e Event) ID() string {
	return fmt.Sprintf("drop_%d_%s_%d", e.DropID, e.Label, e.At.Unix())
}

// Plan computes the drop's timetable, keeping only events after now.
// Explicit reminder offsets are merged with the defaults.
func Plan(d *model.Drop, now time.Time, opts PlanOptions) []Event {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	start := d.ScheduledAt.In(loc)
	var out []Event
	add := func(ev Event) {
		if ev.At.After(now) {
			ev.DropID = d.ID
			out = append(out, ev)
		}
	}

	offsets := engine.NormalizePlan(d.ReminderPlan)
	for _, h := range opts.DefaultOffsets {
		if h >= 1 && !slices.Contains(offsets, h) {
			offsets = append(offsets, h)
		}
	}
	for _, h := range offsets {
		add(Event{
			Kind:        model.EventReminder,
			Label:       model.MinusLabel(h),
			HoursBefore: h,
			At:          start.Add(-time.Duration(h) * time.Hour),
		})
	}

	dayAt := time.Date(start.Year(), start.Month(), start.Day(), opts.DayReminderHour, 0, 0, 0, loc)
	if dayAt.Year() == start.Year() && dayAt.YearDay() == start.YearDay() {
		add(Event{Kind: model.EventDayReminder, Label: fmt.Sprintf("at%02d", opts.DayReminderHour), At: dayAt})
	}

	add(Event{Kind: model.EventAutoConfirm, Label: "autoconfirm", HoursBefore: 1, At: start.Add(-time.Hour)})
	add(Event{Kind: model.EventStart, Label: "start", At: start})
	add(Event{Kind: model.EventSummary, Label: "summary", At: start.Add(opts.SummaryDelay)})

	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// onceSchedule fires a single time at at.
type onceSchedule struct{ at time.Time }

func (o onceSchedule) Next(t time.Time) time.Time {
	if o.at.After(t) {
		return o.at
	}
	return time.Time{}
}
