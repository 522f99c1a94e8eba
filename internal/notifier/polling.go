package notifier

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"AlphaDrop/internal/model"
)

// User is the sender of an update.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// Incoming is a text command or an inline button press.
type Incoming struct {
	Audience     model.Audience
	From         User
	Text         string
	CallbackID   string
	CallbackData string
}

// IsCallback reports whether the update is a button press.
func (in Incoming) IsCallback() bool { return in.CallbackID != "" }

// UpdateHandler is called for every incoming command or callback.
type UpdateHandler func(ctx context.Context, in Incoming)

type chatRef struct {
	ID int64 `json:"id"`
}

type telegramMessage struct {
	MessageThreadID int64   `json:"message_thread_id"`
	From            *User   `json:"from"`
	Chat            chatRef `json:"chat"`
	Text            string  `json:"text"`
}

// telegramUpdate represents a Telegram update from long polling.
type telegramUpdate struct {
	UpdateID      int              `json:"update_id"`
	Message       *telegramMessage `json:"message"`
	CallbackQuery *struct {
		ID      string           `json:"id"`
		From    User             `json:"from"`
		Data    string           `json:"data"`
		Message *telegramMessage `json:"message"`
	} `json:"callback_query"`
}

func (u telegramUpdate) incoming() (Incoming, bool) {
	switch {
	case u.CallbackQuery != nil:
		in := Incoming{
			From:         u.CallbackQuery.From,
			CallbackID:   u.CallbackQuery.ID,
			CallbackData: u.CallbackQuery.Data,
		}
		if m := u.CallbackQuery.Message; m != nil {
			in.Audience = model.Audience{ChatID: chatIDString(m.Chat.ID), ThreadID: m.MessageThreadID}
		}
		return in, true
	case u.Message != nil && strings.TrimSpace(u.Message.Text) != "" && u.Message.From != nil:
		return Incoming{
			Audience: model.Audience{ChatID: chatIDString(u.Message.Chat.ID), ThreadID: u.Message.MessageThreadID},
			From:     *u.Message.From,
			Text:     strings.TrimSpace(u.Message.Text),
		}, true
	}
	return Incoming{}, false
}

// StartPolling begins long-polling for commands and button presses. Blocks until ctx is cancelled.
func (t *TelegramNotifier) StartPolling(ctx context.Context, handler UpdateHandler) {
	offset := 0
	client := &http.Client{Timeout: 35 * time.Second, Transport: t.Client.Transport}

	for {
		select {
		case <-ctx.Done():
			log.Println("[INFO] Telegram polling stopped")
			return
		default:
		}

		var updates []telegramUpdate
		err := t.call(ctx, client, "getUpdates", map[string]any{
			"offset":          offset,
			"timeout":         30,
			"allowed_updates": []string{"message", "callback_query"},
		}, &updates)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("[INFO] Telegram polling stopped")
				return
			}
			log.Printf("[WARN] polling request failed: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, update := range updates {
			offset = update.UpdateID + 1
			in, ok := update.incoming()
			if !ok {
				continue
			}
			if in.IsCallback() {
				log.Printf("[INFO] received callback %q from %d", in.CallbackData, in.From.ID)
			} else {
				log.Printf("[INFO] received command %q from %d", in.Text, in.From.ID)
			}
			handler(ctx, in)
		}
	}
}
