package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"AlphaDrop/internal/metrics"
	"AlphaDrop/internal/model"
)

// fakeAPI records Bot API calls. fail makes the first n sendMessage calls fail.
type fakeAPI struct {
	mu      sync.Mutex
	calls   map[string][]map[string]any
	fail    int
	updates []string
}

func (f *fakeAPI) handler(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	body, _ := io.ReadAll(r.Body)
	var payload map[string]any
	_ = json.Unmarshal(body, &payload)

	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string][]map[string]any)
	}
	f.calls[method] = append(f.calls[method], payload)
	fail := method == "sendMessage" && f.fail > 0
	if fail {
		f.fail--
	}
	var result string
	if method == "getUpdates" {
		result = "[" + strings.Join(f.updates, ",") + "]"
		f.updates = nil
	}
	f.mu.Unlock()

	switch {
	case fail:
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"ok":false,"description":"Too Many Requests","parameters":{"retry_after":0}}`)
	case method == "getUpdates":
		if result == "[]" {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(20 * time.Millisecond):
			}
		}
		_, _ = io.WriteString(w, `{"ok":true,"result":`+result+`}`)
	default:
		_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
	}
}

func (f *fakeAPI) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls[method])
}

func (f *fakeAPI) last(method string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.calls[method]
	if len(c) == 0 {
		return nil
	}
	return c[len(c)-1]
}

func newTestNotifier(api *fakeAPI, opts Options, m *metrics.Metrics) (*TelegramNotifier, *httptest.Server) {
	srv := httptest.NewServer(http.HandlerFunc(api.handler))
	n := NewTelegramNotifier("TOKEN", "-100", "", opts, m)
	n.APIBase = srv.URL
	n.Client.Transport = &http.Transport{DisableKeepAlives: true}
	n.Backoff = time.Millisecond
	return n, srv
}

func TestSend_Payload(t *testing.T) {
	api := &fakeAPI{}
	n, srv := newTestNotifier(api, Options{}, nil)
	defer srv.Close()
	n.ThreadID = 9

	err := n.Send(context.Background(), model.Message{Text: "<b>hi</b>", Buttons: ReserveButtons(4)})
	require.NoError(t, err)

	got := api.last("sendMessage")
	assert.Equal(t, "-100", got["chat_id"])
	assert.Equal(t, float64(9), got["message_thread_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	kb := got["reply_markup"].(map[string]any)["inline_keyboard"].([]any)
	row := kb[0].([]any)
	require.Len(t, row, 2)
	assert.Equal(t, "reserve:4", row[0].(map[string]any)["callback_data"])
	assert.Equal(t, "cancel:4", row[1].(map[string]any)["callback_data"])

	err = n.Send(context.Background(), model.Message{Audience: model.Audience{ChatID: "-200"}, Text: "x"})
	require.NoError(t, err)
	got = api.last("sendMessage")
	assert.Equal(t, "-200", got["chat_id"])
	assert.NotContains(t, got, "message_thread_id")
	assert.NotContains(t, got, "reply_markup")
}

func TestSendWithRetry(t *testing.T) {
	api := &fakeAPI{fail: 2}
	n, srv := newTestNotifier(api, Options{}, nil)
	defer srv.Close()

	require.NoError(t, n.SendWithRetry(context.Background(), model.Message{Text: "x"}, 3))
	assert.Equal(t, 3, api.count("sendMessage"))

	api.mu.Lock()
	api.fail = 10
	api.mu.Unlock()
	err := n.SendWithRetry(context.Background(), model.Message{Text: "x"}, 1)
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, "Too Many Requests", apiErr.Description)
}

func TestNotify_QueueAndRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	api := &fakeAPI{}
	m := metrics.New(prometheus.NewRegistry())
	n, srv := newTestNotifier(api, Options{QueueSize: 8, MessagesPerSecond: 1000, Burst: 10}, m)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		n.Notify(ctx, model.Message{Kind: model.MessageReminder, Text: "r"})
	}
	assert.Eventually(t, func() bool { return api.count("sendMessage") == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Notifications.WithLabelValues("sent")) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestNotify_DropsWhenFull(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	n := NewTelegramNotifier("TOKEN", "-100", "", Options{QueueSize: 1}, m)

	n.Notify(context.Background(), model.Message{Text: "a"})
	n.Notify(context.Background(), model.Message{Text: "b"})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueDepth))
}

func TestAnswerCallback(t *testing.T) {
	api := &fakeAPI{}
	n, srv := newTestNotifier(api, Options{}, nil)
	defer srv.Close()

	require.NoError(t, n.AnswerCallback(context.Background(), "cb1", "Reserved"))
	got := api.last("answerCallbackQuery")
	assert.Equal(t, "cb1", got["callback_query_id"])
	assert.Equal(t, "Reserved", got["text"])
}

func TestStartPolling(t *testing.T) {
	defer goleak.VerifyNone(t)

	api := &fakeAPI{updates: []string{
		`{"update_id":10,"message":{"message_thread_id":5,"from":{"id":42,"username":"neo"},"chat":{"id":-100},"text":" /who "}}`,
		`{"update_id":11,"message":{"chat":{"id":-100},"text":"no sender"}}`,
		`{"update_id":12,"callback_query":{"id":"cb","from":{"id":7,"username":"trin"},"data":"reserve:3","message":{"chat":{"id":-100}}}}`,
	}}
	n, srv := newTestNotifier(api, Options{}, nil)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var (
		mu  sync.Mutex
		got []Incoming
	)
	done := make(chan struct{})
	go func() {
		n.StartPolling(ctx, func(_ context.Context, in Incoming) {
			mu.Lock()
			got = append(got, in)
			mu.Unlock()
		})
		close(done)
	}()

	assert.Eventually(t, func() bool { return api.count("getUpdates") >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, "/who", got[0].Text)
	assert.Equal(t, int64(42), got[0].From.ID)
	assert.Equal(t, model.Audience{ChatID: "-100", ThreadID: 5}, got[0].Audience)
	assert.True(t, got[1].IsCallback())
	assert.Equal(t, "reserve:3", got[1].CallbackData)
	assert.Equal(t, "trin", got[1].From.Username)
	assert.Equal(t, float64(13), api.last("getUpdates")["offset"])
}
