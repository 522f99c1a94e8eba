package calculator

import (
	"time"

	"AlphaDrop/internal/model"
)

// Project simulates days more contributions at rate on top of win and returns
// the resulting window sum. win is not modified.
func Project(win []int, rate, days int) int {
	return SumWindow(ProjectWindow(win, rate, days))
}

// ProjectWindow is Project returning the simulated window itself.
func ProjectWindow(win []int, rate, days int) []int {
	sim := append([]int(nil), win...)
	if len(sim) > WindowDays {
		sim = sim[len(sim)-WindowDays:]
	}
	for i := 0; i < days; i++ {
		sim = slide(sim, rate)
	}
	return sim
}

// ProjectTo forecasts the participant's balance on target's calendar day.
// The window is expected to be current as of today; past targets project zero days.
func ProjectTo(p *model.Participant, today, target time.Time) int {
	days := DaysBetween(today, target.In(today.Location()))
	if days < 0 {
		days = 0
	}
	return Project(p.Window, p.Rate, days)
}
