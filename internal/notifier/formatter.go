package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"AlphaDrop/internal/model"
	"AlphaDrop/internal/strategy"
)

const humanLayout = "02.01.2006 15:04"

// ReserveButtons are attached to reminders and rankings.
func ReserveButtons(dropID int64) []model.Button {
	return []model.Button{
		{Label: "Reserve ✅", Data: fmt.Sprintf("reserve:%d", dropID)},
		{Label: "Cancel ❌", Data: fmt.Sprintf("cancel:%d", dropID)},
	}
}

// CancelButton lets an auto-assigned participant back out.
func CancelButton(dropID int64) []model.Button {
	return []model.Button{{Label: "Cancel ❌", Data: fmt.Sprintf("cancel:%d", dropID)}}
}

func tag(p *model.Participant) string { return html.EscapeString(p.DisplayTag()) }

func joinTags(tags []string) string {
	if len(tags) == 0 {
		return "—"
	}
	return html.EscapeString(strings.Join(tags, ", "))
}

// FormatDropCreated confirms a new drop.
func FormatDropCreated(d *model.Drop, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("✅ Drop created: <b>%s</b>, requires <b>%d ap</b>\n", d.ScheduledAt.In(loc).Format(humanLayout), d.Requirement))
	b.WriteString(fmt.Sprintf("ID: <code>%d</code>\n", d.ID))
	if d.ReminderPlan != nil {
		b.WriteString(fmt.Sprintf("Reminders: custom %v\n", d.ReminderPlan))
	} else {
		b.WriteString("Reminders: default\n")
	}
	b.WriteString(fmt.Sprintf("Reservation slots: %d", d.MaxSlots))
	return b.String()
}

// FormatReminder renders a reminder or the start announcement with the current top candidates.
func FormatReminder(d *model.Drop, top []strategy.Candidate, reserved []string, start bool, now time.Time, loc *time.Location) string {
	var b strings.Builder
	if start {
		b.WriteString("🚀 <b>DROP IS LIVE!</b>\n")
	} else {
		b.WriteString("🔔 <b>Drop reminder</b>\n")
	}
	b.WriteString(fmt.Sprintf("🕒 %s\n", d.ScheduledAt.In(loc).Format(humanLayout)))
	if !start {
		b.WriteString(fmt.Sprintf("Starts: <i>%s</i>\n", timeLeft(d.ScheduledAt.Sub(now))))
	}
	if len(top) > 0 {
		b.WriteString("\n💡 <b>Recommended (forecast to date):</b>\n")
		for i, c := range top {
			mark := "✅"
			if !c.Eligible {
				mark = "⚠️"
			}
			b.WriteString(fmt.Sprintf("%d. %s — ~%d ap %s\n", i+1, tag(c.Participant), c.Predicted, mark))
		}
	}
	if len(reserved) > 0 {
		b.WriteString(fmt.Sprintf("\n✅ Reserved: %s\n", joinTags(reserved)))
	}
	b.WriteString(fmt.Sprintf("\n📏 Required: <b>%d ap</b>", d.Requirement))
	return b.String()
}

func timeLeft(diff time.Duration) string {
	if diff <= 0 {
		return "now"
	}
	h := int(diff.Hours())
	m := int(diff.Minutes()) % 60
	if h >= 1 {
		return fmt.Sprintf("in %d h %d min", h, m)
	}
	return fmt.Sprintf("in %d min", m)
}

// FormatReserved announces a filled slot.
func FormatReserved(d *model.Drop, p *model.Participant) string {
	return fmt.Sprintf("✅ %s reserved drop ID %d. Slots left: %d.", tag(p), d.ID, d.MaxSlots-len(d.Reserved))
}

// FormatUnreserved announces a released slot.
func FormatUnreserved(d *model.Drop, p *model.Participant) string {
	return fmt.Sprintf("❌ %s cancelled the reservation for drop ID %d.", tag(p), d.ID)
}

// FormatAutoConfirm announces the fallback assignment at T-1h.
func FormatAutoConfirm(d *model.Drop, p *model.Participant) string {
	return fmt.Sprintf("⚡ Auto-confirm: %s is assigned to drop ID %d (no reservations one hour before start).\n"+
		"If you can't make it, press «Cancel ❌».", tag(p), d.ID)
}

// FormatSummary closes a drop.
func FormatSummary(d *model.Drop, picked, failed []string, loc *time.Location) string {
	return fmt.Sprintf("📦 Drop %s finished.\nPicked up: %s\nFailed: %s\nArchived ✅",
		d.ScheduledAt.In(loc).Format(humanLayout), joinTags(picked), joinTags(failed))
}

// FormatCancelled announces a cancelled drop.
func FormatCancelled(d *model.Drop, loc *time.Location) string {
	return fmt.Sprintf("🚫 Drop ID %d (%s) was cancelled.", d.ID, d.ScheduledAt.In(loc).Format(humanLayout))
}

// FormatDailyDigest lists everyone's current window sum, highest first.
func FormatDailyDigest(ps []*model.Participant) string {
	var b strings.Builder
	b.WriteString("📊 15-day window totals (daily update):")
	for _, p := range ps {
		b.WriteString(fmt.Sprintf("\n%s — %d ap (rate %d/d)", tag(p), p.Balance, p.Rate))
	}
	return b.String()
}

// FormatStalePing nudges participants who have not updated their profile.
func FormatStalePing(ps []*model.Participant) string {
	tags := make([]string, 0, len(ps))
	for _, p := range ps {
		tags = append(tags, p.DisplayTag())
	}
	return fmt.Sprintf("🔔 Reminder: %s\nPlease update your profile: /points 250 and /rate 17", joinTags(tags))
}

// FormatRanking renders the candidate analysis for a drop.
func FormatRanking(d *model.Drop, cands []strategy.Candidate, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔎 Analysis for drop %s\n📏 Required: %d ap\n", d.ScheduledAt.In(loc).Format(humanLayout), d.Requirement))
	if len(cands) == 0 {
		b.WriteString("\nNo participant data yet. Ask everyone to send /points.")
		return b.String()
	}
	for i, c := range cands {
		mark := "✅"
		if !c.Eligible {
			mark = "⚠️"
		}
		last := "—"
		if !c.Participant.LastOutcomeDate.IsZero() {
			last = c.Participant.LastOutcomeDate.Format("2006-01-02")
		}
		b.WriteString(fmt.Sprintf("\n%s <b>#%d</b> %s — forecast ~%d ap, last pickup %s (trust %d%%, score %d)",
			mark, i+1, tag(c.Participant), c.Predicted, last, c.Participant.Trust, c.Score))
	}
	b.WriteString("\n\n💡 #1 is the main pick; the rest are backups.")
	return b.String()
}

// FormatUpcoming lists scheduled drops.
func FormatUpcoming(ds []*model.Drop, loc *time.Location) string {
	if len(ds) == 0 {
		return "No drops scheduled."
	}
	var b strings.Builder
	b.WriteString("📅 Upcoming drops:")
	for _, d := range ds {
		plan := "default"
		if d.ReminderPlan != nil {
			parts := make([]string, len(d.ReminderPlan))
			for i, h := range d.ReminderPlan {
				parts[i] = fmt.Sprint(h)
			}
			plan = "remind=" + strings.Join(parts, ",")
		}
		b.WriteString(fmt.Sprintf("\n• ID %d: %s — needs %d ap (slots %d/%d, %s)",
			d.ID, d.ScheduledAt.In(loc).Format(humanLayout), d.Requirement, len(d.Reserved), d.MaxSlots, plan))
	}
	return b.String()
}

// FormatStatus renders a participant's own window.
func FormatStatus(p *model.Participant) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("👤 %s\n", tag(p)))
	b.WriteString(fmt.Sprintf("Rate: %d ap/d\n", p.Rate))
	b.WriteString(fmt.Sprintf("Window (15d): %v\n", p.Window))
	b.WriteString(fmt.Sprintf("Current points: <b>%d</b> ap\n", p.Balance))
	outcome, reported := "—", "—"
	if !p.LastOutcomeDate.IsZero() {
		outcome = p.LastOutcomeDate.Format("2006-01-02")
	}
	if !p.LastReportedPickup.IsZero() {
		reported = p.LastReportedPickup.Format("2006-01-02")
	}
	b.WriteString(fmt.Sprintf("Last pickup: %s (reported %s) | Trust: %d%%\n", outcome, reported, p.Trust))
	b.WriteString(fmt.Sprintf("Taken: %d | Failed: %d", p.TakenCount, p.FailCount))
	return b.String()
}

// FormatForecast renders a single projection.
func FormatForecast(p *model.Participant, target time.Time, predicted int, loc *time.Location) string {
	return fmt.Sprintf("🔮 Forecast for %s: ~<b>%d</b> ap (rate %d/d)", target.In(loc).Format("02.01.2006"), predicted, p.Rate)
}

// FormatStats renders the group overview.
func FormatStats(s model.Stats) string {
	var b strings.Builder
	b.WriteString("📊 Overall stats:\n")
	b.WriteString(fmt.Sprintf("• Drops: %d\n", s.Drops))
	b.WriteString(fmt.Sprintf("• Participants: %d", s.Participants))
	if s.TopTaker != nil {
		b.WriteString(fmt.Sprintf("\n• Most active: %s (%d drops)", tag(s.TopTaker), s.TopTaker.TakenCount))
	}
	if s.AvgRate > 0 {
		b.WriteString(fmt.Sprintf("\n• Average rate: %.1f ap/d", s.AvgRate))
	}
	return b.String()
}
