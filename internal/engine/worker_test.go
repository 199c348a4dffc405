package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tickgrabber/internal/browser"
	"tickgrabber/internal/captcha"
	"tickgrabber/internal/model"
	"tickgrabber/internal/notify"
	"tickgrabber/internal/store"
)

// nopDriver satisfies browser.Driver for tests that never touch the page.
type nopDriver struct{}

func (nopDriver) Navigate(context.Context, string) error                 { return nil }
func (nopDriver) WaitVisible(context.Context, string) error              { return nil }
func (nopDriver) ElementExists(context.Context, string) (bool, error)    { return false, nil }
func (nopDriver) ElementVisible(context.Context, string) (bool, error)   { return false, nil }
func (nopDriver) Text(context.Context, string) (string, error)           { return "", nil }
func (nopDriver) Attribute(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}
func (nopDriver) Screenshot(context.Context, string) ([]byte, error) { return nil, nil }
func (nopDriver) SetValue(context.Context, string, string) error     { return nil }
func (nopDriver) Click(context.Context, string) error                { return nil }
func (nopDriver) Box(context.Context, string) (browser.Box, error)   { return browser.Box{}, nil }
func (nopDriver) PressHold(context.Context, string) error            { return nil }
func (nopDriver) MoveBy(context.Context, int, int) error             { return nil }
func (nopDriver) Release(context.Context) error                      { return nil }
func (nopDriver) Reload(context.Context) error                       { return nil }
func (nopDriver) Close() error                                       { return nil }

type seatsResp struct {
	seats []model.SeatCandidate
	err   error
}

// scriptedClient replays queued responses; the final entry repeats.
type scriptedClient struct {
	mu        sync.Mutex
	login     []error
	seats     []seatsResp
	book      []error
	order     *model.BookingResult
	orderErr  error
	seatCalls int
	booked    []string
}

func (c *scriptedClient) Login(context.Context, model.Credentials) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.login) == 0 {
		return nil
	}
	err := c.login[0]
	c.login = c.login[1:]
	return err
}

func (c *scriptedClient) AvailableSeats(_ context.Context, _ string) ([]model.SeatCandidate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seatCalls++
	if len(c.seats) == 0 {
		return nil, nil
	}
	resp := c.seats[0]
	if len(c.seats) > 1 {
		c.seats = c.seats[1:]
	}
	return resp.seats, resp.err
}

func (c *scriptedClient) Book(_ context.Context, seatID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.booked = append(c.booked, seatID)
	if len(c.book) == 0 {
		return nil
	}
	err := c.book[0]
	c.book = c.book[1:]
	return err
}

func (c *scriptedClient) LatestOrder(context.Context) (*model.BookingResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order, c.orderErr
}

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seatCalls
}

func (c *scriptedClient) bookedSeats() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.booked...)
}

type solveStep struct {
	challenge captcha.Challenge
	outcome   captcha.Outcome
	err       error
}

// scriptedSolver replays one step per booking attempt; exhausted steps
// report no challenge.
type scriptedSolver struct {
	mu    sync.Mutex
	steps []solveStep
}

func (s *scriptedSolver) Detect(context.Context) (captcha.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return captcha.Challenge{Type: captcha.TypeNone}, nil
	}
	return s.steps[0].challenge, nil
}

func (s *scriptedSolver) Solve(context.Context, captcha.Challenge) (captcha.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return captcha.OutcomeFailed, errors.New("no scripted step")
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step.outcome, step.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Emit(_ context.Context, event notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]notify.Kind, len(n.events))
	for i, e := range n.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func testTarget() model.Target {
	return model.Target{
		ID:       "concert-1",
		Name:     "Arena Night",
		Site:     "interpark",
		MaxPrice: 0,
	}
}

func testSettings() Settings {
	return Settings{
		RefreshInterval: 10 * time.Millisecond,
		MaxRetries:      3,
		RetryDelay:      5 * time.Millisecond,
		StopGrace:       100 * time.Millisecond,
		Credentials:     model.Credentials{Username: "u", Password: "p"},
		AutoSolve:       true,
	}
}

func newTestWorker(t *testing.T, client *scriptedClient, solver Solver, n notify.Notifier, settings Settings) *Worker {
	t.Helper()
	if n == nil {
		n = &recordingNotifier{}
	}
	return NewWorker(testTarget(), Deps{
		Client:    client,
		NewDriver: func() (browser.Driver, error) { return nopDriver{}, nil },
		NewSolver: func(browser.Driver) Solver { return solver },
		Notifier:  n,
		Logger:    zap.NewNop(),
	}, settings)
}

func runWorker(t *testing.T, w *Worker, ctx context.Context) {
	t.Helper()
	go w.Run(ctx)
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not reach a terminal state")
	}
}

func TestWorkerSuccessFlow(t *testing.T) {
	order := &model.BookingResult{
		SeatCategory: "VIP", OrderID: "ord-7", Price: 150,
		PaymentDeadline: "2026-09-01 12:00", OrderURL: "https://example/order/7",
	}
	client := &scriptedClient{
		seats: []seatsResp{{seats: []model.SeatCandidate{
			{ID: "s-2", Category: "GA", Price: 200, TargetID: "concert-1"},
			{ID: "s-1", Category: "VIP", Price: 150, TargetID: "concert-1"},
		}}},
		order: order,
	}
	notifier := &recordingNotifier{}
	bookings := store.NewBookings(filepath.Join(t.TempDir(), "bookings.json"))

	w := NewWorker(testTarget(), Deps{
		Client:    client,
		NewDriver: func() (browser.Driver, error) { return nopDriver{}, nil },
		NewSolver: func(browser.Driver) Solver { return &scriptedSolver{} },
		Notifier:  notifier,
		Bookings:  bookings,
		Logger:    zap.NewNop(),
	}, testSettings())

	runWorker(t, w, context.Background())

	assert.Equal(t, model.StatusSucceeded, w.Status())
	require.NotNil(t, w.Result())
	assert.Equal(t, *order, *w.Result())
	assert.NoError(t, w.Err())

	// Cheapest candidate wins the booking attempt.
	assert.Equal(t, []string{"s-1"}, client.bookedSeats())

	// The user hears about the candidate before the booking attempt.
	assert.Equal(t, []notify.Kind{notify.KindCandidateFound, notify.KindPurchaseSucceeded}, notifier.kinds())

	records, err := bookings.All()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ord-7", records[0].Booking.OrderID)
	assert.Equal(t, "s-1", records[0].Seat.ID)
}

func TestWorkerFailsAfterRetryBudget(t *testing.T) {
	client := &scriptedClient{
		seats: []seatsResp{{err: model.Transient(errors.New("connection reset"))}},
	}
	notifier := &recordingNotifier{}
	w := newTestWorker(t, client, &scriptedSolver{}, notifier, testSettings())

	runWorker(t, w, context.Background())

	assert.Equal(t, model.StatusFailed, w.Status())
	assert.Nil(t, w.Result())
	assert.Error(t, w.Err())
	// max_retries=3: the third consecutive transient error is terminal,
	// there is no fourth or fifth attempt.
	assert.Equal(t, 3, client.calls())
	assert.Equal(t, []notify.Kind{notify.KindError}, notifier.kinds())
}

func TestWorkerConsecutiveCounterResetsOnSuccess(t *testing.T) {
	transient := model.Transient(errors.New("timeout"))
	client := &scriptedClient{
		seats: []seatsResp{
			{err: transient},
			{err: transient},
			{}, // successful empty poll resets the budget
			{err: transient},
			{err: transient},
			{seats: []model.SeatCandidate{{ID: "s-9", Category: "GA", Price: 50, TargetID: "concert-1"}}},
		},
	}
	w := newTestWorker(t, client, &scriptedSolver{}, nil, testSettings())

	runWorker(t, w, context.Background())

	assert.Equal(t, model.StatusSucceeded, w.Status(), "interleaved successes keep the run alive")
}

func TestWorkerAuthFailureIsImmediatelyFatal(t *testing.T) {
	client := &scriptedClient{login: []error{model.ErrAuthFailed}}
	w := newTestWorker(t, client, &scriptedSolver{}, nil, testSettings())

	runWorker(t, w, context.Background())

	assert.Equal(t, model.StatusFailed, w.Status())
	assert.ErrorIs(t, w.Err(), model.ErrAuthFailed)
	assert.Equal(t, 0, client.calls(), "no polling after a rejected login")
}

func TestWorkerBrowserSetupFailureIsFatal(t *testing.T) {
	w := NewWorker(testTarget(), Deps{
		Client:    &scriptedClient{},
		NewDriver: func() (browser.Driver, error) { return nil, errors.New("no chrome binary") },
		NewSolver: func(browser.Driver) Solver { return &scriptedSolver{} },
		Notifier:  &recordingNotifier{},
		Logger:    zap.NewNop(),
	}, testSettings())

	runWorker(t, w, context.Background())

	assert.Equal(t, model.StatusFailed, w.Status())
	assert.ErrorIs(t, w.Err(), model.ErrBrowserSetup)
}

func TestWorkerBookingConflictResumesPolling(t *testing.T) {
	candidate := model.SeatCandidate{ID: "s-1", Category: "GA", Price: 80, TargetID: "concert-1"}
	client := &scriptedClient{
		seats: []seatsResp{{seats: []model.SeatCandidate{candidate}}},
		book:  []error{model.ErrBookingConflict},
	}
	notifier := &recordingNotifier{}
	w := newTestWorker(t, client, &scriptedSolver{}, notifier, testSettings())

	runWorker(t, w, context.Background())

	assert.Equal(t, model.StatusSucceeded, w.Status())
	assert.Equal(t, []string{"s-1", "s-1"}, client.bookedSeats(), "conflict retries on a later cycle")
	// Losing the race still told the user a candidate existed.
	kinds := notifier.kinds()
	assert.GreaterOrEqual(t, len(kinds), 3)
	assert.Equal(t, notify.KindCandidateFound, kinds[0])
	assert.Equal(t, notify.KindPurchaseSucceeded, kinds[len(kinds)-1])
}

func TestWorkerCaptchaUnsolvedAbortsOnlyTheAttempt(t *testing.T) {
	candidate := model.SeatCandidate{ID: "s-1", Category: "GA", Price: 80, TargetID: "concert-1"}
	client := &scriptedClient{
		seats: []seatsResp{{seats: []model.SeatCandidate{candidate}}},
	}
	solver := &scriptedSolver{steps: []solveStep{{
		challenge: captcha.Challenge{Type: captcha.TypeImage, Selector: "#captchaImage"},
		outcome:   captcha.OutcomeFailed,
	}}}
	w := newTestWorker(t, client, solver, nil, testSettings())

	runWorker(t, w, context.Background())

	// First attempt aborted by the unsolved challenge, second went clean.
	assert.Equal(t, model.StatusSucceeded, w.Status())
	assert.Equal(t, []string{"s-1"}, client.bookedSeats())
}

func TestWorkerProceedsTentativelyOnUnknownOutcome(t *testing.T) {
	candidate := model.SeatCandidate{ID: "s-1", Category: "GA", Price: 80, TargetID: "concert-1"}
	client := &scriptedClient{
		seats: []seatsResp{{seats: []model.SeatCandidate{candidate}}},
	}
	solver := &scriptedSolver{steps: []solveStep{{
		challenge: captcha.Challenge{Type: captcha.TypeSlider, Selector: ".sliderContainer"},
		outcome:   captcha.OutcomeUnknown,
	}}}
	w := newTestWorker(t, client, solver, nil, testSettings())

	runWorker(t, w, context.Background())

	assert.Equal(t, model.StatusSucceeded, w.Status())
	assert.Equal(t, []string{"s-1"}, client.bookedSeats(), "unknown verdict books anyway")
}

func TestWorkerStopsDuringPollingWithinOneInterval(t *testing.T) {
	client := &scriptedClient{} // forever seatless
	w := newTestWorker(t, client, &scriptedSolver{}, nil, testSettings())

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	// Let it settle into the polling loop, then request the stop.
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("stop was not honored within one poll interval")
	}
	assert.Equal(t, model.StatusStopped, w.Status())
	assert.Nil(t, w.Result())
}

func TestWorkerResultOnlyWhenSucceeded(t *testing.T) {
	client := &scriptedClient{login: []error{model.ErrAuthFailed}}
	w := newTestWorker(t, client, &scriptedSolver{}, nil, testSettings())

	runWorker(t, w, context.Background())

	assert.True(t, w.Status().Terminal())
	assert.NotEqual(t, model.StatusSucceeded, w.Status())
	assert.Nil(t, w.Result())
}
