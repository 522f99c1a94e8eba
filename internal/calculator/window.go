package calculator

import (
	"time"

	"AlphaDrop/internal/model"
)

// WindowDays is the accumulation horizon of the resource window.
const WindowDays = 15

// SumWindow returns the sum of all contributions.
func SumWindow(win []int) int {
	sum := 0
	for _, v := range win {
		sum += v
	}
	return sum
}

// slide appends v and drops the oldest entries past WindowDays.
func slide(win []int, v int) []int {
	win = append(win, v)
	if len(win) > WindowDays {
		win = win[len(win)-WindowDays:]
	}
	return win
}

func normalize(p *model.Participant) {
	if len(p.Window) > WindowDays {
		p.Window = p.Window[len(p.Window)-WindowDays:]
	}
	p.Balance = SumWindow(p.Window)
}

// AdvanceTo backfills one slot at the participant's rate for every day after
// LastWindowDate up to and including today. Missed days are assumed to have
// been farmed at the declared rate. Calling it twice for the same day is a
// no-op. Reports whether the window changed.
func AdvanceTo(p *model.Participant, today time.Time) bool {
	if p.LastWindowDate.IsZero() {
		if len(p.Window) == 0 {
			p.Window = []int{0}
		}
		p.LastWindowDate = today
		normalize(p)
		return true
	}
	days := DaysBetween(p.LastWindowDate, today)
	if days <= 0 {
		return false
	}
	if days > WindowDays {
		days = WindowDays
	}
	win := append([]int(nil), p.Window...)
	for i := 0; i < days; i++ {
		win = slide(win, p.Rate)
	}
	p.Window = win
	p.LastWindowDate = today
	normalize(p)
	return true
}

// RecordPickup consumes today's contribution: the newest slot becomes zero.
// The window is advanced first so that today's slot exists.
func RecordPickup(p *model.Participant, today time.Time) {
	AdvanceTo(p, today)
	if len(p.Window) == 0 {
		p.Window = []int{0}
	} else {
		p.Window = append([]int(nil), p.Window...)
		p.Window[len(p.Window)-1] = 0
	}
	normalize(p)
}

// SetRate clamps rate into [lo, hi] and stores it.
func SetRate(p *model.Participant, rate, lo, hi int) int {
	if rate < lo {
		rate = lo
	}
	if rate > hi {
		rate = hi
	}
	p.Rate = rate
	return rate
}

// SetBalanceSnapshot rebuilds an approximate window from a reported absolute
// balance. Exact day-by-day history is unknown, so every slot is filled at the
// current rate and the newest slot absorbs the difference. When the difference
// is negative it carries into older slots, each clamped at zero, so the sum
// always equals the reported balance (negative balances are treated as zero).
func SetBalanceSnapshot(p *model.Participant, points int, today time.Time) {
	if points < 0 {
		points = 0
	}
	rate := p.Rate
	if rate < 0 {
		rate = 0
	}
	win := make([]int, WindowDays)
	for i := range win {
		win[i] = rate
	}
	need := points - SumWindow(win)
	for i := len(win) - 1; i >= 0 && need != 0; i-- {
		v := win[i] + need
		if v >= 0 {
			win[i] = v
			need = 0
			break
		}
		need = v
		win[i] = 0
	}
	p.Window = win
	p.LastWindowDate = today
	normalize(p)
}
