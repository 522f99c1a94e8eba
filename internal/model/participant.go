package model

import "time"

const (
	DefaultRate  = 17
	DefaultTrust = 80
	MinTrust     = 0
	MaxTrust     = 100
)

// Participant is a member competing for drops. Records are never deleted.
type Participant struct {
	ID      int64  `json:"id"`
	Tag     string `json:"tag"`
	Rate    int    `json:"rate"`
	Window  []int  `json:"window"`  // daily contributions, oldest first
	Balance int    `json:"balance"` // always sum(Window)

	LastWindowDate time.Time `json:"last_window_date"`
	// LastOutcomeDate is set when a pickup is recorded against a drop.
	LastOutcomeDate time.Time `json:"last_outcome_date"`
	// LastReportedPickup is the pickup date the participant typed in by hand.
	// It can disagree with LastOutcomeDate and is kept separate on purpose.
	LastReportedPickup time.Time `json:"last_reported_pickup"`
	LastProfileUpdate  time.Time `json:"last_profile_update"`

	Trust      int `json:"trust"`
	TakenCount int `json:"taken_count"`
	FailCount  int `json:"fail_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewParticipant returns a participant with an empty window and default rate/trust.
func NewParticipant(id int64, tag string, today time.Time) *Participant {
	return &Participant{
		ID:                id,
		Tag:               tag,
		Rate:              DefaultRate,
		Window:            []int{},
		LastWindowDate:    today,
		LastProfileUpdate: today,
		Trust:             DefaultTrust,
	}
}

// Clone returns a deep copy.
func (p *Participant) Clone() *Participant {
	c := *p
	c.Window = append([]int(nil), p.Window...)
	return &c
}

// DisplayTag returns the tag, falling back to the numeric id.
func (p *Participant) DisplayTag() string {
	if p == nil {
		return "—"
	}
	if p.Tag != "" {
		return "@" + p.Tag
	}
	return "id:" + itoa(p.ID)
}
