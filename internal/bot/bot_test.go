package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlphaDrop/internal/engine"
	"AlphaDrop/internal/model"
	"AlphaDrop/internal/notifier"
	"AlphaDrop/internal/store"
)

var kyiv = time.FixedZone("EEST", 3*3600)

type fakeMessenger struct {
	mu      sync.Mutex
	msgs    []model.Message
	answers map[string]string
}

func (f *fakeMessenger) Notify(_ context.Context, msg model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *fakeMessenger) AnswerCallback(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.answers == nil {
		f.answers = make(map[string]string)
	}
	f.answers[id] = text
	return nil
}

func (f *fakeMessenger) last() model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		return model.Message{}
	}
	return f.msgs[len(f.msgs)-1]
}

func newTestBot(t *testing.T) (*Bot, *fakeMessenger) {
	t.Helper()
	out := &fakeMessenger{}
	opts := engine.DefaultOptions()
	opts.Location = kyiv
	clock := engine.ClockFunc(func() time.Time { return time.Date(2025, 10, 20, 9, 0, 0, 0, kyiv) })
	eng := engine.New(store.NewMemoryStore(), clock, out, nil, opts)
	return New(eng, out), out
}

func say(t *testing.T, b *Bot, from notifier.User, text string) string {
	t.Helper()
	reply, ok := b.Command(context.Background(), from, text)
	require.True(t, ok, text)
	return reply.Text
}

var (
	neo  = notifier.User{ID: 1, Username: "neo"}
	trin = notifier.User{ID: 2, Username: "trin"}
)

func TestCommand_NotACommand(t *testing.T) {
	b, _ := newTestBot(t)
	_, ok := b.Command(context.Background(), neo, "hello there")
	assert.False(t, ok)
	_, ok = b.Command(context.Background(), neo, "   ")
	assert.False(t, ok)
}

func TestCommand_ProfileFlow(t *testing.T) {
	b, _ := newTestBot(t)
	ctx := context.Background()
	_, err := b.Engine.Touch(ctx, neo.ID, neo.Username)
	require.NoError(t, err)

	assert.Contains(t, say(t, b, neo, "/rate 20"), "Rate set: 20")
	assert.Contains(t, say(t, b, neo, "/points 255"), "Balance set: 255 ap (rate 20/d)")
	assert.Equal(t, "Usage: /points 250", say(t, b, neo, "/points lots"))
	assert.Contains(t, say(t, b, neo, "/lastpickup 2025-10-18"), "2025-10-18")
	assert.Equal(t, "Usage: /lastpickup 2025-10-18", say(t, b, neo, "/lastpickup yesterday"))

	status := say(t, b, neo, "/MyStatus@AlphaDropBot")
	assert.Contains(t, status, "@neo")
	assert.Contains(t, status, "<b>255</b>")
	assert.Contains(t, status, "reported 2025-10-18")

	assert.Contains(t, say(t, b, neo, "/forecast 2025-10-22"), "~")
	assert.Contains(t, say(t, b, neo, "/help"), "/newdrop")
	assert.Equal(t, "Unknown command. /help", say(t, b, neo, "/dance"))
}

func TestCommand_NewDropWhoAndReserve(t *testing.T) {
	b, out := newTestBot(t)
	ctx := context.Background()
	for _, u := range []notifier.User{neo, trin} {
		_, err := b.Engine.Touch(ctx, u.ID, u.Username)
		require.NoError(t, err)
	}
	say(t, b, neo, "/points 250")
	say(t, b, trin, "/points 120")

	assert.Equal(t, "No drops scheduled.", say(t, b, neo, "/who"))
	assert.Contains(t, say(t, b, neo, "/newdrop 2025-10-20 20:00"), "Usage")
	assert.Contains(t, say(t, b, neo, "/newdrop 2025-10-20 20:00 200 every=1"), "Usage")
	assert.Contains(t, say(t, b, neo, "/newdrop 2025-10-01 20:00 200"), "invalid drop schedule")

	reply, ok := b.Command(ctx, neo, "/newdrop 2025-10-20 20:00 200 remind=6,3")
	require.True(t, ok)
	assert.Empty(t, reply.Text)
	assert.Equal(t, model.MessageDropCreated, out.last().Kind)

	who, _ := b.Command(ctx, neo, "/who")
	assert.Contains(t, who.Text, "#1</b> @neo")
	assert.Contains(t, who.Text, "#2</b> @trin")
	require.Len(t, who.Buttons, 2)
	assert.Equal(t, "reserve:1", who.Buttons[0].Data)

	assert.Contains(t, say(t, b, neo, "/listdrops"), "remind=6,3")

	assert.Equal(t, "Reserved ✅", b.Callback(ctx, neo, "reserve:1"))
	assert.Equal(t, "You have already reserved this drop.", b.Callback(ctx, neo, "reserve:1"))
	assert.Equal(t, "No such drop.", b.Callback(ctx, neo, "reserve:9"))
	assert.Equal(t, "Unknown drop", b.Callback(ctx, neo, "reserve:x"))
	assert.Equal(t, "Unknown action", b.Callback(ctx, neo, "steal:1"))
	assert.Equal(t, "You have no reservation on this drop.", b.Callback(ctx, trin, "cancel:1"))
	assert.Equal(t, "Reservation cancelled", b.Callback(ctx, neo, "cancel:1"))

	assert.Contains(t, say(t, b, neo, "/stats"), "Drops: 1")
}

func TestCommand_TookAndFailed(t *testing.T) {
	b, _ := newTestBot(t)
	ctx := context.Background()
	_, err := b.Engine.Touch(ctx, neo.ID, neo.Username)
	require.NoError(t, err)
	say(t, b, neo, "/points 255")

	assert.Equal(t, "No such drop.", say(t, b, neo, "/failed"))
	assert.Contains(t, say(t, b, neo, "/took"), "Pickup noted")

	_, err = b.Engine.CreateDrop(ctx, engine.DropRequest{ScheduledAt: time.Date(2025, 10, 20, 8, 30, 0, 0, kyiv), Requirement: 100})
	require.NoError(t, err)
	assert.Contains(t, say(t, b, neo, "/took"), "@neo picked up drop ID 1")
	assert.Equal(t, "Noted: no pickup on drop ID 1.", say(t, b, neo, "/failed"))

	d, err := b.Engine.Drop(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, d.Failed)
	assert.Empty(t, d.Picked)
}

func TestHandle_RoutesRepliesAndCallbacks(t *testing.T) {
	b, out := newTestBot(t)
	ctx := context.Background()
	aud := model.Audience{ChatID: "-100", ThreadID: 3}

	b.Handle(ctx, notifier.Incoming{Audience: aud, From: neo, Text: "/help"})
	last := out.last()
	assert.Equal(t, model.MessageReply, last.Kind)
	assert.Equal(t, aud, last.Audience)
	assert.True(t, strings.HasPrefix(last.Text, "Commands:"))

	p, err := b.Engine.Participant(ctx, neo.ID)
	require.NoError(t, err)
	assert.Equal(t, "neo", p.Tag)

	b.Handle(ctx, notifier.Incoming{Audience: aud, From: neo, CallbackID: "cb1", CallbackData: "reserve:5"})
	assert.Equal(t, "No such drop.", out.answers["cb1"])

	n := len(out.msgs)
	b.Handle(ctx, notifier.Incoming{Audience: aud, From: neo, Text: "just chatting"})
	assert.Len(t, out.msgs, n)
}
