package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"AlphaDrop/internal/metrics"
	"AlphaDrop/internal/model"
)

const defaultAPIBase = "https://api.telegram.org"

// Options tunes the outbound queue.
type Options struct {
	QueueSize         int
	MessagesPerSecond float64
	Burst             int
	MaxRetries        int
}

// TelegramNotifier sends messages via the Telegram Bot API. Notify only
// enqueues; Run drains the queue at a limited rate.
type TelegramNotifier struct {
	BotToken string
	ChatID   string
	ThreadID int64
	APIBase  string
	Client   *http.Client
	Metrics  *metrics.Metrics
	// Backoff is the first retry delay; it doubles per attempt.
	Backoff    time.Duration
	MaxRetries int

	queue   chan model.Message
	limiter *rate.Limiter
}

// NewTelegramNotifier creates a notifier with optional proxy support.
func NewTelegramNotifier(botToken, chatID, proxyURL string, opts Options, m *metrics.Metrics) *TelegramNotifier {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = 1
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &TelegramNotifier{
		BotToken: botToken,
		ChatID:   chatID,
		APIBase:  defaultAPIBase,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		Metrics:    m,
		Backoff:    time.Second,
		MaxRetries: opts.MaxRetries,
		queue:      make(chan model.Message, opts.QueueSize),
		limiter:    rate.NewLimiter(rate.Limit(opts.MessagesPerSecond), opts.Burst),
	}
}

// Notify enqueues msg without blocking. When the queue is full the message is dropped.
func (t *TelegramNotifier) Notify(_ context.Context, msg model.Message) {
	select {
	case t.queue <- msg:
		t.Metrics.SetQueueDepth(len(t.queue))
	default:
		t.Metrics.Notification("dropped")
		log.Printf("[WARN] notification queue full, dropping %s for drop %d", msg.Kind, msg.DropID)
	}
}

// Run sends queued messages until ctx is cancelled.
func (t *TelegramNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Println("[INFO] notifier stopped")
			return
		case msg := <-t.queue:
			t.Metrics.SetQueueDepth(len(t.queue))
			if err := t.limiter.Wait(ctx); err != nil {
				return
			}
			if err := t.SendWithRetry(ctx, msg, t.MaxRetries); err != nil {
				t.Metrics.Notification("failed")
				log.Printf("[ERROR] send %s notification: %v", msg.Kind, err)
				continue
			}
			t.Metrics.Notification("sent")
		}
	}
}

// APIError is a non-OK Bot API response.
type APIError struct {
	Status      int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram API error: status %d: %s", e.Status, e.Description)
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (t *TelegramNotifier) call(ctx context.Context, client *http.Client, method string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	apiURL := fmt.Sprintf("%s/bot%s/%s", t.APIBase, t.BotToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	var r apiResponse
	if err := json.Unmarshal(raw, &r); err != nil || resp.StatusCode != http.StatusOK || !r.OK {
		apiErr := &APIError{Status: resp.StatusCode, Description: r.Description}
		if apiErr.Description == "" {
			apiErr.Description = string(raw)
		}
		if r.Parameters != nil {
			apiErr.RetryAfter = time.Duration(r.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}
	if out != nil {
		if err := json.Unmarshal(r.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type sendMessage struct {
	ChatID          string `json:"chat_id"`
	MessageThreadID int64  `json:"message_thread_id,omitempty"`
	Text            string `json:"text"`
	ParseMode       string `json:"parse_mode"`
	ReplyMarkup     *struct {
		InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
	} `json:"reply_markup,omitempty"`
}

// Send delivers msg immediately. An empty audience means the configured chat.
func (t *TelegramNotifier) Send(ctx context.Context, msg model.Message) error {
	payload := sendMessage{
		ChatID:          msg.Audience.ChatID,
		MessageThreadID: msg.Audience.ThreadID,
		Text:            msg.Text,
		ParseMode:       "HTML",
	}
	if payload.ChatID == "" {
		payload.ChatID = t.ChatID
		payload.MessageThreadID = t.ThreadID
	}
	if len(msg.Buttons) > 0 {
		row := make([]inlineButton, 0, len(msg.Buttons))
		for _, b := range msg.Buttons {
			row = append(row, inlineButton{Text: b.Label, CallbackData: b.Data})
		}
		payload.ReplyMarkup = &struct {
			InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
		}{InlineKeyboard: [][]inlineButton{row}}
	}
	return t.call(ctx, t.Client, "sendMessage", payload, nil)
}

// SendWithRetry sends a message with exponential backoff retry. A flood-control
// response waits at least the advertised retry_after.
func (t *TelegramNotifier) SendWithRetry(ctx context.Context, msg model.Message, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		err := t.Send(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == maxRetries {
			break
		}
		backoff := t.Backoff * time.Duration(1<<uint(i))
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > backoff {
			backoff = apiErr.RetryAfter
		}
		log.Printf("[WARN] Telegram send failed (attempt %d/%d): %v, retrying in %v", i+1, maxRetries+1, err, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("all %d retries exhausted: %w", maxRetries+1, lastErr)
}

// AnswerCallback acknowledges an inline button press, optionally with a toast.
func (t *TelegramNotifier) AnswerCallback(ctx context.Context, callbackID, text string) error {
	payload := map[string]string{"callback_query_id": callbackID}
	if text != "" {
		payload["text"] = text
	}
	return t.call(ctx, t.Client, "answerCallbackQuery", payload, nil)
}

// DefaultAudience returns the configured chat.
func (t *TelegramNotifier) DefaultAudience() model.Audience {
	return model.Audience{ChatID: t.ChatID, ThreadID: t.ThreadID}
}

func chatIDString(id int64) string { return strconv.FormatInt(id, 10) }
