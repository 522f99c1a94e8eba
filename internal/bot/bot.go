// Package bot maps chat commands and inline button presses onto engine operations.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"AlphaDrop/internal/engine"
	"AlphaDrop/internal/model"
	"AlphaDrop/internal/notifier"
)

// Messenger delivers replies and acknowledges button presses.
type Messenger interface {
	Notify(ctx context.Context, msg model.Message)
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

type Bot struct {
	Engine *engine.Engine
	Out    Messenger
}

func New(eng *engine.Engine, out Messenger) *Bot {
	return &Bot{Engine: eng, Out: out}
}

// Handle is a notifier.UpdateHandler.
func (b *Bot) Handle(ctx context.Context, in notifier.Incoming) {
	if _, err := b.Engine.Touch(ctx, in.From.ID, in.From.Username); err != nil {
		log.Printf("[ERROR] register participant %d: %v", in.From.ID, err)
	}
	if in.IsCallback() {
		toast := b.Callback(ctx, in.From, in.CallbackData)
		if err := b.Out.AnswerCallback(ctx, in.CallbackID, toast); err != nil {
			log.Printf("[WARN] answer callback: %v", err)
		}
		return
	}
	reply, ok := b.Command(ctx, in.From, in.Text)
	if !ok || reply.Text == "" {
		return
	}
	reply.Audience = in.Audience
	reply.Kind = model.MessageReply
	b.Out.Notify(ctx, reply)
}

// Callback handles "reserve:<id>" and "cancel:<id>" and returns the toast text.
func (b *Bot) Callback(ctx context.Context, from notifier.User, data string) string {
	action, rawID, found := strings.Cut(data, ":")
	if !found {
		return "Unknown action"
	}
	dropID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return "Unknown drop"
	}
	switch action {
	case "reserve":
		if _, err := b.Engine.Reserve(ctx, dropID, from.ID); err != nil {
			return errorText(err)
		}
		return "Reserved ✅"
	case "cancel":
		if _, err := b.Engine.CancelReservation(ctx, dropID, from.ID); err != nil {
			return errorText(err)
		}
		return "Reservation cancelled"
	default:
		return "Unknown action"
	}
}

// errorText turns engine errors into chat replies.
func errorText(err error) string {
	switch {
	case errors.Is(err, engine.ErrNotEligible):
		return "⛔ You are not in the top 3 for this drop."
	case errors.Is(err, engine.ErrAlreadyReserved):
		return "You have already reserved this drop."
	case errors.Is(err, engine.ErrNotReserved):
		return "You have no reservation on this drop."
	case errors.Is(err, engine.ErrSlotsFull):
		return "All slots are taken."
	case errors.Is(err, engine.ErrDropClosed):
		return "This drop is already closed."
	case errors.Is(err, engine.ErrUnknownDrop):
		return "No such drop."
	case errors.Is(err, engine.ErrUnknownParticipant):
		return "Send /points first so I know your balance."
	case errors.Is(err, engine.ErrInvalidSchedule):
		return fmt.Sprintf("❌ %v", err)
	default:
		log.Printf("[ERROR] bot: %v", err)
		return "Something went wrong, try again later."
	}
}
