package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"AlphaDrop/internal/engine"
	"AlphaDrop/internal/model"
	"AlphaDrop/internal/notifier"
)

const helpText = `Commands:
• /who — top candidates for the next drop
• /listdrops — upcoming drops
• /stats — group stats
• /mystatus — your window and trust
• /points N — report your current balance
• /rate N — your daily accrual
• /lastpickup YYYY-MM-DD — when you last picked up
• /forecast YYYY-MM-DD — your projected balance
• /took — you picked up the current drop
• /failed — you missed the current drop
• /newdrop YYYY-MM-DD HH:MM REQ [remind=6,3,1]
• /canceldrop ID`

// Command runs one text command. ok is false for text that is not a command.
func (b *Bot) Command(ctx context.Context, from notifier.User, text string) (reply model.Message, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return model.Message{}, false
	}
	name, _, _ := strings.Cut(strings.ToLower(fields[0]), "@")
	args := fields[1:]

	switch name {
	case "/start", "/help":
		return textReply(helpText), true
	case "/who":
		return b.who(ctx), true
	case "/listdrops":
		return b.listDrops(ctx), true
	case "/stats":
		s, err := b.Engine.Stats(ctx)
		if err != nil {
			return textReply(errorText(err)), true
		}
		return textReply(notifier.FormatStats(s)), true
	case "/mystatus":
		p, err := b.Engine.Participant(ctx, from.ID)
		if err != nil {
			return textReply(errorText(err)), true
		}
		return textReply(notifier.FormatStatus(p)), true
	case "/points":
		n, err := intArg(args)
		if err != nil {
			return textReply("Usage: /points 250"), true
		}
		p, err := b.Engine.SetBalanceSnapshot(ctx, from.ID, n)
		if err != nil {
			return textReply(errorText(err)), true
		}
		return textReply(fmt.Sprintf("✅ Balance set: %d ap (rate %d/d)", p.Balance, p.Rate)), true
	case "/rate":
		n, err := intArg(args)
		if err != nil {
			return textReply("Usage: /rate 17"), true
		}
		p, err := b.Engine.SetRate(ctx, from.ID, n)
		if err != nil {
			return textReply(errorText(err)), true
		}
		return textReply(fmt.Sprintf("✅ Rate set: %d ap/d", p.Rate)), true
	case "/lastpickup":
		day, err := b.dateArg(args)
		if err != nil {
			return textReply("Usage: /lastpickup 2025-10-18"), true
		}
		if _, err := b.Engine.UpdateProfile(ctx, engine.ProfileUpdate{ID: from.ID, ReportedPickup: &day}); err != nil {
			return textReply(errorText(err)), true
		}
		return textReply("✅ Last pickup saved: " + day.Format("2006-01-02")), true
	case "/forecast":
		day, err := b.dateArg(args)
		if err != nil {
			return textReply("Usage: /forecast 2025-10-25"), true
		}
		n, err := b.Engine.Project(ctx, from.ID, day)
		if err != nil {
			return textReply(errorText(err)), true
		}
		p, err := b.Engine.Participant(ctx, from.ID)
		if err != nil {
			return textReply(errorText(err)), true
		}
		return textReply(notifier.FormatForecast(p, day, n, b.Engine.Location())), true
	case "/took":
		d, p, err := b.Engine.ReportPickup(ctx, from.ID)
		if err != nil {
			return textReply(errorText(err)), true
		}
		if d == nil {
			return textReply(fmt.Sprintf("✅ Pickup noted. Window now %d ap.", p.Balance)), true
		}
		return textReply(fmt.Sprintf("✅ %s picked up drop ID %d. Window now %d ap.", p.DisplayTag(), d.ID, p.Balance)), true
	case "/failed":
		d, err := b.Engine.ReportFailure(ctx, from.ID)
		if err != nil {
			return textReply(errorText(err)), true
		}
		return textReply(fmt.Sprintf("Noted: no pickup on drop ID %d.", d.ID)), true
	case "/newdrop":
		return b.newDrop(ctx, from, args), true
	case "/canceldrop":
		id, err := intArg(args)
		if err != nil {
			return textReply("Usage: /canceldrop 12"), true
		}
		if _, err := b.Engine.CancelDrop(ctx, int64(id)); err != nil {
			return textReply(errorText(err)), true
		}
		return model.Message{}, true
	default:
		return textReply("Unknown command. /help"), true
	}
}

func textReply(text string) model.Message { return model.Message{Text: text} }

func intArg(args []string) (int, error) {
	if len(args) != 1 {
		return 0, errors.New("want one argument")
	}
	return strconv.Atoi(args[0])
}

func (b *Bot) dateArg(args []string) (time.Time, error) {
	if len(args) != 1 {
		return time.Time{}, errors.New("want one date")
	}
	return time.ParseInLocation("2006-01-02", args[0], b.Engine.Location())
}

func (b *Bot) who(ctx context.Context) model.Message {
	d, err := b.Engine.NextDrop(ctx)
	if err != nil {
		if errors.Is(err, engine.ErrUnknownDrop) {
			return textReply("No drops scheduled.")
		}
		return textReply(errorText(err))
	}
	d, cands, err := b.Engine.RankDrop(ctx, d.ID)
	if err != nil {
		return textReply(errorText(err))
	}
	return model.Message{
		DropID:  d.ID,
		Text:    notifier.FormatRanking(d, cands, b.Engine.Location()),
		Buttons: notifier.ReserveButtons(d.ID),
	}
}

func (b *Bot) listDrops(ctx context.Context) model.Message {
	ds, err := b.Engine.Upcoming(ctx)
	if err != nil {
		return textReply(errorText(err))
	}
	return textReply(notifier.FormatUpcoming(ds, b.Engine.Location()))
}

// newDrop parses "YYYY-MM-DD HH:MM REQ [remind=6,3,1]".
func (b *Bot) newDrop(ctx context.Context, from notifier.User, args []string) model.Message {
	const usage = "Usage: /newdrop 2025-10-20 20:00 200 [remind=6,3,1]"
	if len(args) < 3 || len(args) > 4 {
		return textReply(usage)
	}
	at, err := time.ParseInLocation("2006-01-02 15:04", args[0]+" "+args[1], b.Engine.Location())
	if err != nil {
		return textReply(usage)
	}
	req, err := strconv.Atoi(args[2])
	if err != nil {
		return textReply(usage)
	}
	var plan []int
	if len(args) == 4 {
		if plan, err = parseRemind(args[3]); err != nil {
			return textReply(usage)
		}
	}
	// The engine posts the confirmation to the drop's audience.
	if _, err := b.Engine.CreateDrop(ctx, engine.DropRequest{
		ScheduledAt:  at,
		Requirement:  req,
		ReminderPlan: plan,
		CreatedBy:    from.ID,
	}); err != nil {
		return textReply(errorText(err))
	}
	return model.Message{}
}

func parseRemind(arg string) ([]int, error) {
	v, found := strings.CutPrefix(strings.ToLower(arg), "remind=")
	if !found {
		return nil, fmt.Errorf("unexpected argument %q", arg)
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		h, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("bad offset %q: %w", part, err)
		}
		out = append(out, h)
	}
	return out, nil
}
