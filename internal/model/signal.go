package model

import "time"

// FactorScore is one additive term of a candidate's ranking score.
type FactorScore struct {
	Name       string `json:"name"`
	Points     int    `json:"points"`
	Commentary string `json:"commentary"`
}

// TrustRule names a self-learning adjustment.
type TrustRule string

const (
	RulePicked              TrustRule = "picked_success"
	RuleFailed              TrustRule = "failed_drop"
	RuleReservedNotPicked   TrustRule = "reserved_but_not_picked"
	RuleForecastOKNotPicked TrustRule = "predicted_ok_but_not_picked"
	RuleForecastLowPicked   TrustRule = "predicted_fail_but_picked"
)

// TrustEvent is the audit record of one applied rule.
type TrustEvent struct {
	DropID        int64     `json:"drop_id"`
	ParticipantID int64     `json:"participant_id"`
	Rule          TrustRule `json:"rule"`
	Delta         int       `json:"delta"`
	TrustBefore   int       `json:"trust_before"`
	TrustAfter    int       `json:"trust_after"`
	At            time.Time `json:"at"`
}
