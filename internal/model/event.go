package model

import "fmt"

// EventKind is a timer-fired event type of a drop.
type EventKind string

const (
	EventReminder    EventKind = "reminder"     // T - h hours
	EventDayReminder EventKind = "day_reminder" // fixed hour on the drop's day
	EventAutoConfirm EventKind = "autoconfirm"  // T - 1h
	EventStart       EventKind = "start"        // T
	EventSummary     EventKind = "summary"      // T + summary delay
)

// MinusLabel names the reminder h hours before start, e.g. "minus3h".
func MinusLabel(h int) string { return fmt.Sprintf("minus%dh", h) }

// Stats is a group-wide overview.
type Stats struct {
	Drops        int
	Participants int
	TopTaker     *Participant
	AvgRate      float64
}
