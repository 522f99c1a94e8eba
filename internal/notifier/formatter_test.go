package notifier

import (
	"strings"
	"testing"
	"time"

	"AlphaDrop/internal/model"
	"AlphaDrop/internal/strategy"
)

var kyiv = time.FixedZone("EEST", 3*3600)

func TestFormatReminder(t *testing.T) {
	d := &model.Drop{ID: 3, ScheduledAt: time.Date(2025, 10, 20, 20, 0, 0, 0, kyiv), Requirement: 200}
	top := []strategy.Candidate{
		{Participant: &model.Participant{ID: 1, Tag: "neo"}, Predicted: 250, Eligible: true},
		{Participant: &model.Participant{ID: 2}, Predicted: 180},
	}
	now := time.Date(2025, 10, 20, 17, 30, 0, 0, kyiv)

	got := FormatReminder(d, top, []string{"@neo"}, false, now, kyiv)
	for _, want := range []string{"Drop reminder", "20.10.2025 20:00", "in 2 h 30 min", "1. @neo — ~250 ap ✅", "2. id:2 — ~180 ap ⚠️", "Reserved: @neo", "<b>200 ap</b>"} {
		if !strings.Contains(got, want) {
			t.Errorf("reminder missing %q:\n%s", want, got)
		}
	}

	got = FormatReminder(d, nil, nil, true, now, kyiv)
	if !strings.Contains(got, "DROP IS LIVE") || strings.Contains(got, "Starts:") {
		t.Errorf("start message:\n%s", got)
	}
}

func TestFormatEscapesTags(t *testing.T) {
	p := &model.Participant{ID: 1, Tag: "<script>"}
	got := FormatReserved(&model.Drop{ID: 1, MaxSlots: 3, Reserved: []int64{1}}, p)
	if strings.Contains(got, "<script>") || !strings.Contains(got, "&lt;script&gt;") {
		t.Errorf("tag not escaped: %s", got)
	}
	if !strings.Contains(got, "Slots left: 2") {
		t.Errorf("slots: %s", got)
	}
}

func TestFormatSummaryAndDigest(t *testing.T) {
	d := &model.Drop{ScheduledAt: time.Date(2025, 10, 20, 20, 0, 0, 0, kyiv)}
	got := FormatSummary(d, []string{"@a", "@b"}, nil, kyiv)
	if !strings.Contains(got, "Picked up: @a, @b") || !strings.Contains(got, "Failed: —") {
		t.Errorf("summary:\n%s", got)
	}

	ps := []*model.Participant{{ID: 1, Tag: "a", Balance: 240, Rate: 17}, {ID: 2, Balance: 10, Rate: 5}}
	got = FormatDailyDigest(ps)
	if !strings.Contains(got, "@a — 240 ap (rate 17/d)") || !strings.Contains(got, "id:2 — 10 ap") {
		t.Errorf("digest:\n%s", got)
	}
}

func TestFormatUpcoming(t *testing.T) {
	if got := FormatUpcoming(nil, kyiv); got != "No drops scheduled." {
		t.Errorf("empty = %q", got)
	}
	ds := []*model.Drop{{ID: 5, ScheduledAt: time.Date(2025, 10, 21, 18, 0, 0, 0, kyiv), Requirement: 150, MaxSlots: 3, ReminderPlan: []int{6, 3}}}
	got := FormatUpcoming(ds, kyiv)
	if !strings.Contains(got, "ID 5: 21.10.2025 18:00 — needs 150 ap (slots 0/3, remind=6,3)") {
		t.Errorf("upcoming:\n%s", got)
	}
}

func TestFormatStats(t *testing.T) {
	got := FormatStats(model.Stats{Drops: 4, Participants: 2, TopTaker: &model.Participant{Tag: "neo", TakenCount: 3}, AvgRate: 16.5})
	for _, want := range []string{"Drops: 4", "Participants: 2", "@neo (3 drops)", "16.5 ap/d"} {
		if !strings.Contains(got, want) {
			t.Errorf("stats missing %q:\n%s", want, got)
		}
	}
}
