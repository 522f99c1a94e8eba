package strategy

import (
	"fmt"
	"time"

	"AlphaDrop/internal/calculator"
	"AlphaDrop/internal/model"
)

const (
	eligibleBonus     = 1000
	perDaySinceTurn   = 5
	neverHadTurnBonus = 30
	trustDivisor      = 5
)

// scoreEligibility awards the flat bonus that keeps eligible candidates on top.
func scoreEligibility(predicted, requirement int) model.FactorScore {
	if predicted >= requirement {
		return model.FactorScore{Name: "eligible", Points: eligibleBonus, Commentary: fmt.Sprintf("%d ≥ %d", predicted, requirement)}
	}
	return model.FactorScore{Name: "eligible", Points: 0, Commentary: fmt.Sprintf("%d < %d", predicted, requirement)}
}

// scoreSurplus rewards points above the requirement.
func scoreSurplus(predicted, requirement int) model.FactorScore {
	surplus := predicted - requirement
	if surplus < 0 {
		surplus = 0
	}
	return model.FactorScore{Name: "surplus", Points: surplus, Commentary: fmt.Sprintf("+%d ap", surplus)}
}

// scoreRotation favors participants who waited longest since their last success.
// Participants who never had one get a flat bonus.
func scoreRotation(last, today time.Time) model.FactorScore {
	if last.IsZero() {
		return model.FactorScore{Name: "rotation", Points: neverHadTurnBonus, Commentary: "never picked"}
	}
	days := calculator.DaysBetween(last, today)
	return model.FactorScore{Name: "rotation", Points: days * perDaySinceTurn, Commentary: fmt.Sprintf("%d days since last", days)}
}

func scoreTrust(trust int) model.FactorScore {
	return model.FactorScore{Name: "trust", Points: trust / trustDivisor, Commentary: fmt.Sprintf("trust %d", trust)}
}
