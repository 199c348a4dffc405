package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tickgrabber/internal/model"
)

func sampleTarget() model.Target {
	return model.Target{
		ID:    "concert-1",
		Name:  "Arena Night",
		Venue: "Olympic Hall",
		Date:  "2026-09-12",
		URL:   "https://tickets.example/concert-1",
	}
}

func TestEventConstructors(t *testing.T) {
	target := sampleTarget()

	found := CandidateFound(target, model.SeatCandidate{ID: "s-1", Category: "VIP", Price: 150})
	assert.Equal(t, KindCandidateFound, found.Kind)
	require.NotNil(t, found.Seat)
	assert.NotEmpty(t, found.ID)
	assert.False(t, found.At.IsZero())

	bought := PurchaseSucceeded(target, model.BookingResult{OrderID: "ord-7", SeatCategory: "VIP", Price: 150})
	assert.Equal(t, KindPurchaseSucceeded, bought.Kind)
	require.NotNil(t, bought.Booking)

	failed := Failure(target, errors.New("retry budget exhausted"))
	assert.Equal(t, KindError, failed.Kind)
	assert.Equal(t, "retry budget exhausted", failed.Err)

	assert.NotEqual(t, found.ID, bought.ID, "every event gets its own id")
}

func TestEventBodyPerKind(t *testing.T) {
	target := sampleTarget()

	body := CandidateFound(target, model.SeatCandidate{Category: "VIP", Price: 150}).Body()
	assert.Contains(t, body, "Arena Night")
	assert.Contains(t, body, "VIP")
	assert.Contains(t, body, target.URL)

	body = PurchaseSucceeded(target, model.BookingResult{
		OrderID: "ord-7", SeatCategory: "VIP", Price: 150,
		PaymentDeadline: "2026-09-01 12:00", OrderURL: "https://t/order/7",
	}).Body()
	assert.Contains(t, body, "ord-7")
	assert.Contains(t, body, "Pay before: 2026-09-01 12:00")
	assert.Contains(t, body, "https://t/order/7")

	body = Failure(target, errors.New("boom")).Body()
	assert.Contains(t, body, "Error: boom")
}

func TestTelegramSendsMarkdownMessage(t *testing.T) {
	var path string
	var msg telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
	}))
	defer srv.Close()

	tg := NewTelegram("123:abc", "chat-9")
	tg.apiBase = srv.URL

	event := CandidateFound(sampleTarget(), model.SeatCandidate{Category: "VIP", Price: 150})
	require.NoError(t, tg.Emit(context.Background(), event))

	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, "chat-9", msg.ChatID)
	assert.Equal(t, "Markdown", msg.ParseMode)
	assert.Contains(t, msg.Text, "Tickets available: Arena Night")
}

func TestTelegramNonOKIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tg := NewTelegram("t", "c")
	tg.apiBase = srv.URL

	err := tg.Emit(context.Background(), Failure(sampleTarget(), errors.New("x")))
	assert.Error(t, err)
}

func TestEmailBuildsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg string

	e := NewEmail("smtp.example.com", 587, "bot@example.com", "pw", "fan@example.com")
	e.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		return nil
	}

	event := PurchaseSucceeded(sampleTarget(), model.BookingResult{OrderID: "ord-7", SeatCategory: "VIP"})
	require.NoError(t, e.Emit(context.Background(), event))

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "bot@example.com", gotFrom)
	assert.Equal(t, []string{"fan@example.com"}, gotTo)
	assert.True(t, strings.Contains(gotMsg, "Subject: [tickgrabber] Purchase succeeded: Arena Night"))
	assert.Contains(t, gotMsg, "ord-7")
}

func TestEmailWrapsSendFailure(t *testing.T) {
	e := NewEmail("smtp.example.com", 587, "a@b", "pw", "c@d")
	e.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	err := e.Emit(context.Background(), Failure(sampleTarget(), errors.New("x")))
	assert.ErrorContains(t, err, "connection refused")
}

type stubNotifier struct {
	mu   sync.Mutex
	seen []Event
	fail bool
}

func (n *stubNotifier) Emit(_ context.Context, event Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("transport down")
	}
	n.seen = append(n.seen, event)
	return nil
}

func TestMultiContinuesPastFailingTransport(t *testing.T) {
	broken := &stubNotifier{fail: true}
	healthy := &stubNotifier{}
	m := &Multi{Notifiers: []Notifier{broken, healthy}, Logger: zap.NewNop()}

	err := m.Emit(context.Background(), Failure(sampleTarget(), errors.New("x")))

	assert.NoError(t, err, "fan-out swallows per-transport failures")
	assert.Len(t, healthy.seen, 1)
}

func TestLogNotifierNeverFails(t *testing.T) {
	n := &LogNotifier{Logger: zap.NewNop()}
	assert.NoError(t, n.Emit(context.Background(), CandidateFound(sampleTarget(), model.SeatCandidate{})))
	assert.NoError(t, n.Emit(context.Background(), Failure(sampleTarget(), errors.New("x"))))
}
