package calculator

import (
	"testing"
	"time"

	"AlphaDrop/internal/model"
)

var kyiv = mustLoc("Europe/Kyiv")

func mustLoc(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(name, 2*3600)
	}
	return loc
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, kyiv)
}

func checkInvariants(t *testing.T, p *model.Participant) {
	t.Helper()
	if len(p.Window) > WindowDays {
		t.Fatalf("window length %d exceeds %d", len(p.Window), WindowDays)
	}
	if got := SumWindow(p.Window); got != p.Balance {
		t.Fatalf("balance %d != sum(window) %d", p.Balance, got)
	}
}

func TestSetBalanceSnapshot(t *testing.T) {
	tests := []struct {
		name   string
		rate   int
		points int
		want   int
	}{
		{"exact fill", 17, 255, 255},
		{"surplus in newest slot", 17, 300, 300},
		{"deficit carries back", 17, 100, 100},
		{"zero", 17, 0, 0},
		{"negative clamps", 17, -50, 0},
		{"zero rate", 0, 42, 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := model.NewParticipant(1, "a", day(2025, 10, 1))
			p.Rate = tt.rate
			SetBalanceSnapshot(p, tt.points, day(2025, 10, 1))
			checkInvariants(t, p)
			if p.Balance != tt.want {
				t.Errorf("balance = %d, want %d", p.Balance, tt.want)
			}
			for i, v := range p.Window {
				if v < 0 {
					t.Errorf("slot %d negative: %d", i, v)
				}
			}
		})
	}
}

func TestSetBalanceSnapshot_Scenario255(t *testing.T) {
	p := model.NewParticipant(1, "a", day(2025, 10, 1))
	SetBalanceSnapshot(p, 255, day(2025, 10, 1))
	checkInvariants(t, p)
	if p.Balance != 255 || len(p.Window) != WindowDays {
		t.Fatalf("got balance %d len %d", p.Balance, len(p.Window))
	}
	for _, v := range p.Window {
		if v != 17 {
			t.Fatalf("expected uniform 17 slots, got %v", p.Window)
		}
	}
}

func TestAdvanceTo_BackfillsMissedDays(t *testing.T) {
	p := model.NewParticipant(1, "a", day(2025, 10, 1))
	p.Window = []int{5, 5}
	p.Balance = 10
	if !AdvanceTo(p, day(2025, 10, 4)) {
		t.Fatal("expected window to change")
	}
	checkInvariants(t, p)
	want := []int{5, 5, 17, 17, 17}
	if len(p.Window) != len(want) {
		t.Fatalf("window = %v, want %v", p.Window, want)
	}
	for i := range want {
		if p.Window[i] != want[i] {
			t.Fatalf("window = %v, want %v", p.Window, want)
		}
	}
	if !p.LastWindowDate.Equal(day(2025, 10, 4)) {
		t.Errorf("last window date = %v", p.LastWindowDate)
	}
}

func TestAdvanceTo_IdempotentSameDay(t *testing.T) {
	p := model.NewParticipant(1, "a", day(2025, 10, 1))
	SetBalanceSnapshot(p, 200, day(2025, 10, 1))
	AdvanceTo(p, day(2025, 10, 2))
	before := append([]int(nil), p.Window...)
	if AdvanceTo(p, day(2025, 10, 2)) {
		t.Error("second advance on the same day should be a no-op")
	}
	for i := range before {
		if before[i] != p.Window[i] {
			t.Fatalf("window changed: %v -> %v", before, p.Window)
		}
	}
	checkInvariants(t, p)
}

func TestAdvanceTo_SlidesPastHorizon(t *testing.T) {
	p := model.NewParticipant(1, "a", day(2025, 10, 1))
	p.Rate = 10
	SetBalanceSnapshot(p, 0, day(2025, 10, 1))
	AdvanceTo(p, day(2025, 11, 30))
	checkInvariants(t, p)
	if p.Balance != 150 {
		t.Errorf("balance = %d, want 150", p.Balance)
	}
}

func TestAdvanceTo_NoLastDateSeedsTodaySlot(t *testing.T) {
	p := &model.Participant{ID: 1, Rate: 17}
	AdvanceTo(p, day(2025, 10, 1))
	checkInvariants(t, p)
	if len(p.Window) != 1 || p.Window[0] != 0 {
		t.Errorf("window = %v, want [0]", p.Window)
	}
}

func TestRecordPickup(t *testing.T) {
	p := model.NewParticipant(1, "a", day(2025, 10, 1))
	SetBalanceSnapshot(p, 255, day(2025, 10, 1))

	RecordPickup(p, day(2025, 10, 3))
	checkInvariants(t, p)
	if p.Window[len(p.Window)-1] != 0 {
		t.Errorf("today's slot = %d, want 0", p.Window[len(p.Window)-1])
	}
	if p.Balance != 255-17 {
		t.Errorf("balance = %d, want %d", p.Balance, 255-17)
	}

	empty := model.NewParticipant(2, "b", day(2025, 10, 3))
	RecordPickup(empty, day(2025, 10, 3))
	checkInvariants(t, empty)
	if len(empty.Window) != 1 || empty.Balance != 0 {
		t.Errorf("empty window pickup = %v", empty.Window)
	}
}

func TestSetRate_Clamps(t *testing.T) {
	p := model.NewParticipant(1, "a", day(2025, 10, 1))
	if got := SetRate(p, 80, 0, 50); got != 50 {
		t.Errorf("SetRate(80) = %d, want 50", got)
	}
	if got := SetRate(p, -3, 0, 50); got != 0 {
		t.Errorf("SetRate(-3) = %d, want 0", got)
	}
	if got := SetRate(p, 18, 0, 50); got != 18 || p.Rate != 18 {
		t.Errorf("SetRate(18) = %d, rate %d", got, p.Rate)
	}
}

func TestDaysBetween_AcrossDST(t *testing.T) {
	// Kyiv leaves summer time on the last Sunday of October.
	a := day(2025, 10, 25)
	b := day(2025, 10, 27)
	if got := DaysBetween(a, b); got != 2 {
		t.Errorf("DaysBetween = %d, want 2", got)
	}
	if got := DaysBetween(b, a); got != -2 {
		t.Errorf("DaysBetween reversed = %d, want -2", got)
	}
}
