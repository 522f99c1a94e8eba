package strategy

import (
	"testing"
	"time"

	"AlphaDrop/internal/calculator"
	"AlphaDrop/internal/model"
)

var today = time.Date(2025, 10, 18, 0, 0, 0, 0, time.UTC)

func participant(id int64, balance, rate int) *model.Participant {
	p := model.NewParticipant(id, "", today)
	p.Rate = rate
	calculator.SetBalanceSnapshot(p, balance, today)
	return p
}

func ids(cands []Candidate) []int64 {
	out := make([]int64, len(cands))
	for i, c := range cands {
		out[i] = c.Participant.ID
	}
	return out
}

func TestRank_EligibleFirstBySurplus(t *testing.T) {
	ps := []*model.Participant{
		participant(1, 250, 0),
		participant(2, 180, 0),
		participant(3, 210, 0),
	}
	// A very stale last outcome must not lift an ineligible participant.
	ps[1].LastOutcomeDate = today.AddDate(-1, 0, 0)
	ps[1].Trust = 100

	got := Rank(200, today.AddDate(0, 0, 2), today, ps, SignalOutcome)
	want := []int64{1, 3, 2}
	for i, id := range ids(got) {
		if id != want[i] {
			t.Fatalf("order = %v, want %v", ids(got), want)
		}
	}
	if !got[0].Eligible || !got[1].Eligible || got[2].Eligible {
		t.Errorf("eligibility = %v %v %v", got[0].Eligible, got[1].Eligible, got[2].Eligible)
	}
	if got[0].Score != 1000+50+30+16 {
		t.Errorf("top score = %d, want %d", got[0].Score, 1000+50+30+16)
	}
	if len(got[0].Factors) != 4 {
		t.Errorf("expected 4 factors, got %d", len(got[0].Factors))
	}
}

func TestRank_UsesForecastNotCurrentBalance(t *testing.T) {
	// slow stays at 190 with a zero rate; grower's short window fills at 50/day.
	slow := participant(1, 190, 0)
	grower := model.NewParticipant(2, "", today)
	grower.Window = []int{100}
	grower.Balance = 100
	grower.Rate = 50

	got := Rank(200, today.AddDate(0, 0, 3), today, []*model.Participant{slow, grower}, SignalOutcome)
	if got[0].Participant.ID != 2 || got[0].Predicted != 250 {
		t.Fatalf("expected grower first with 250, got id %d predicted %d", got[0].Participant.ID, got[0].Predicted)
	}
}

func TestRank_RotationSignals(t *testing.T) {
	a := participant(1, 300, 0)
	b := participant(2, 300, 0)
	a.LastReportedPickup = today.AddDate(0, 0, -20)
	b.LastOutcomeDate = today.AddDate(0, 0, -20)

	byOutcome := Rank(200, today, today, []*model.Participant{a, b}, SignalOutcome)
	// a: never (outcome) => +30; b: 20 days => +100.
	if byOutcome[0].Participant.ID != 2 {
		t.Errorf("outcome signal: expected b first, got %v", ids(byOutcome))
	}
	byReported := Rank(200, today, today, []*model.Participant{a, b}, SignalReported)
	if byReported[0].Participant.ID != 1 {
		t.Errorf("reported signal: expected a first, got %v", ids(byReported))
	}
}

func TestRank_StableTies(t *testing.T) {
	ps := []*model.Participant{participant(5, 100, 0), participant(3, 100, 0), participant(9, 100, 0)}
	for i := 0; i < 10; i++ {
		got := ids(Rank(50, today, today, ps, SignalOutcome))
		if got[0] != 5 || got[1] != 3 || got[2] != 9 {
			t.Fatalf("tie order = %v, want insertion order", got)
		}
	}
}

func TestRank_Empty(t *testing.T) {
	got := Rank(200, today, today, nil, SignalOutcome)
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil ranking, got %v", got)
	}
	if len(Top(got, 3)) != 0 {
		t.Error("Top of empty ranking should be empty")
	}
}

func TestTop(t *testing.T) {
	cands := Rank(0, today, today, []*model.Participant{participant(1, 1, 0), participant(2, 2, 0), participant(3, 3, 0), participant(4, 4, 0)}, SignalOutcome)
	top := Top(cands, 3)
	if len(top) != 3 {
		t.Fatalf("len(top) = %d", len(top))
	}
	if Contains(top, cands[3].Participant.ID) {
		t.Error("fourth candidate should be outside the top 3")
	}
	if len(Top(cands, 10)) != 4 {
		t.Error("Top larger than input should return all")
	}
}

func TestParseRotationSignal(t *testing.T) {
	tests := []struct {
		in      string
		want    RotationSignal
		wantErr bool
	}{
		{"", SignalOutcome, false},
		{"outcome", SignalOutcome, false},
		{" Reported ", SignalReported, false},
		{"manual", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRotationSignal(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseRotationSignal(%q) = %q, %v", tt.in, got, err)
		}
	}
}
