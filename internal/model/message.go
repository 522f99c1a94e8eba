package model

import "strconv"

// MessageKind identifies why a notification was emitted.
type MessageKind string

const (
	MessageDropCreated  MessageKind = "DROP_CREATED"
	MessageReminder     MessageKind = "REMINDER"
	MessageStart        MessageKind = "START"
	MessageReserved     MessageKind = "RESERVED"
	MessageUnreserved   MessageKind = "UNRESERVED"
	MessageAutoConfirm  MessageKind = "AUTO_CONFIRM"
	MessageSummary      MessageKind = "SUMMARY"
	MessageDailyDigest  MessageKind = "DAILY_DIGEST"
	MessageStalePing    MessageKind = "STALE_PING"
	MessageDropCanceled MessageKind = "DROP_CANCELLED"
	MessageReply        MessageKind = "REPLY"
)

// Audience is a chat (and optional forum thread). Empty ChatID means the default chat.
type Audience struct {
	ChatID   string `json:"chat_id,omitempty"`
	ThreadID int64  `json:"thread_id,omitempty"`
}

// Button is an inline action attached to a message.
type Button struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Message is a notification payload handed to the messaging layer.
type Message struct {
	Audience Audience
	Kind     MessageKind
	DropID   int64
	Text     string // HTML
	Buttons  []Button
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
