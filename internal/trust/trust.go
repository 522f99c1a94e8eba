// Package trust adjusts participant reputation from recorded drop outcomes
// and from how well the minus-1h forecast matched what actually happened.
package trust

import (
	"slices"
	"sort"

	"AlphaDrop/internal/model"
)

// Deltas per rule.
const (
	DeltaPicked              = +3
	DeltaFailed              = -4
	DeltaReservedNotPicked   = -2
	DeltaForecastOKNotPicked = -1
	DeltaForecastLowPicked   = +2
)

// Adjustment is one rule firing for one participant.
type Adjustment struct {
	ParticipantID int64
	Rule          model.TrustRule
	Delta         int
}

// Evaluate returns every rule that applies to the finalized drop. Rules are not
// mutually exclusive; a participant may collect several adjustments.
// PredictedAtCreate is retained on the drop for audit and is not consulted.
func Evaluate(d *model.Drop) []Adjustment {
	var out []Adjustment
	for _, id := range d.Picked {
		out = append(out, Adjustment{id, model.RulePicked, DeltaPicked})
	}
	for _, id := range d.Failed {
		out = append(out, Adjustment{id, model.RuleFailed, DeltaFailed})
	}
	for _, id := range d.Reserved {
		if !slices.Contains(d.Picked, id) {
			out = append(out, Adjustment{id, model.RuleReservedNotPicked, DeltaReservedNotPicked})
		}
	}

	ids := make([]int64, 0, len(d.PredictedAtMinus1h))
	for id := range d.PredictedAtMinus1h {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		pred := d.PredictedAtMinus1h[id]
		picked := slices.Contains(d.Picked, id)
		switch {
		case pred >= d.Requirement && !picked:
			out = append(out, Adjustment{id, model.RuleForecastOKNotPicked, DeltaForecastOKNotPicked})
		case pred < d.Requirement && picked:
			out = append(out, Adjustment{id, model.RuleForecastLowPicked, DeltaForecastLowPicked})
		}
	}
	return out
}

// Group sums adjustments per participant, keeping first-seen order.
func Group(adjs []Adjustment) (order []int64, byID map[int64][]Adjustment) {
	byID = make(map[int64][]Adjustment)
	for _, a := range adjs {
		if _, ok := byID[a.ParticipantID]; !ok {
			order = append(order, a.ParticipantID)
		}
		byID[a.ParticipantID] = append(byID[a.ParticipantID], a)
	}
	return order, byID
}

// Apply adds every delta to current and clamps the total into [MinTrust, MaxTrust].
// Clamping happens once, after summing.
func Apply(current int, adjs []Adjustment) int {
	v := current
	for _, a := range adjs {
		v += a.Delta
	}
	return Clamp(v)
}

// Clamp bounds v into the trust range.
func Clamp(v int) int {
	if v < model.MinTrust {
		return model.MinTrust
	}
	if v > model.MaxTrust {
		return model.MaxTrust
	}
	return v
}
