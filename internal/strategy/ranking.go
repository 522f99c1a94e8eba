package strategy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"AlphaDrop/internal/calculator"
	"AlphaDrop/internal/model"
)

// RotationSignal selects which "last success" date feeds the rotation factor.
// The structured outcome date and the manually reported pickup date can
// disagree, so they are never merged.
type RotationSignal string

const (
	SignalOutcome  RotationSignal = "outcome"
	SignalReported RotationSignal = "reported"
)

// ParseRotationSignal validates a configured signal name.
func ParseRotationSignal(s string) (RotationSignal, error) {
	switch RotationSignal(strings.ToLower(strings.TrimSpace(s))) {
	case SignalOutcome, "":
		return SignalOutcome, nil
	case SignalReported:
		return SignalReported, nil
	default:
		return "", fmt.Errorf("unknown rotation signal %q (want outcome or reported)", s)
	}
}

func (s RotationSignal) lastSuccess(p *model.Participant) time.Time {
	if s == SignalReported {
		return p.LastReportedPickup
	}
	return p.LastOutcomeDate
}

// Candidate is one ranked participant for a drop.
type Candidate struct {
	Participant *model.Participant
	Predicted   int
	Eligible    bool
	Score       int
	Factors     []model.FactorScore
}

// Rank scores every participant against requirement on target's day and orders
// them eligible first, then by score. Ties keep the input order. Participant
// windows are expected to be current as of today.
func Rank(requirement int, target, today time.Time, participants []*model.Participant, signal RotationSignal) []Candidate {
	out := make([]Candidate, 0, len(participants))
	for _, p := range participants {
		predicted := calculator.ProjectTo(p, today, target)
		factors := []model.FactorScore{
			scoreEligibility(predicted, requirement),
			scoreSurplus(predicted, requirement),
			scoreRotation(signal.lastSuccess(p), today),
			scoreTrust(p.Trust),
		}
		score := 0
		for _, f := range factors {
			score += f.Points
		}
		out = append(out, Candidate{
			Participant: p,
			Predicted:   predicted,
			Eligible:    predicted >= requirement,
			Score:       score,
			Factors:     factors,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Eligible != out[j].Eligible {
			return out[i].Eligible
		}
		return out[i].Score > out[j].Score
	})
	return out
}

// Top returns at most k leading candidates.
func Top(cands []Candidate, k int) []Candidate {
	if k < 0 {
		k = 0
	}
	if len(cands) > k {
		return cands[:k]
	}
	return cands
}

// Contains reports whether id is among cands.
func Contains(cands []Candidate, id int64) bool {
	for _, c := range cands {
		if c.Participant.ID == id {
			return true
		}
	}
	return false
}
