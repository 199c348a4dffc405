package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tickgrabber/internal/browser"
	"tickgrabber/internal/captcha"
	"tickgrabber/internal/model"
	"tickgrabber/internal/notify"
	"tickgrabber/internal/site"
	"tickgrabber/internal/store"
)

// Solver is the captcha capability the worker depends on.
type Solver interface {
	Detect(ctx context.Context) (captcha.Challenge, error)
	Solve(ctx context.Context, ch captcha.Challenge) (captcha.Outcome, error)
}

// SolverFactory binds a solver to the browser session a worker owns.
type SolverFactory func(d browser.Driver) Solver

// Settings are the run parameters shared by every worker.
type Settings struct {
	RefreshInterval time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	StopGrace       time.Duration
	Credentials     model.Credentials
	AutoSolve       bool
}

// Deps are the collaborators injected into a worker. Client and the
// driver produced by NewDriver are exclusively owned by the worker;
// Notifier and Bookings are shared and must be concurrency-safe.
type Deps struct {
	Client    site.Client
	NewDriver browser.Factory
	NewSolver SolverFactory
	Notifier  notify.Notifier
	Bookings  *store.Bookings // optional
	Logger    *zap.Logger
}

// Worker runs the login → poll → select → book state machine for one
// target. It is started once and never reused.
type Worker struct {
	target   model.Target
	deps     Deps
	settings Settings
	logger   *zap.Logger

	status atomic.Int32
	done   chan struct{}

	mu      sync.Mutex
	result  *model.BookingResult
	failure error
	driver  browser.Driver
}

// NewWorker builds a worker for the target. Run must be called exactly once.
func NewWorker(target model.Target, deps Deps, settings Settings) *Worker {
	return &Worker{
		target:   target,
		deps:     deps,
		settings: settings,
		logger:   deps.Logger.With(zap.String("target", target.ID)),
		done:     make(chan struct{}),
	}
}

// Status is the worker's current state. Safe from any goroutine.
func (w *Worker) Status() model.Status {
	return model.Status(w.status.Load())
}

func (w *Worker) setStatus(s model.Status) {
	w.status.Store(int32(s))
	w.logger.Debug("state change", zap.Stringer("status", s))
}

// Result is the booking result, non-nil exactly when Status is Succeeded.
func (w *Worker) Result() *model.BookingResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result
}

// Err is the failure that drove the worker to Failed, nil otherwise.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failure
}

// Done closes when the worker reaches a terminal state.
func (w *Worker) Done() <-chan struct{} { return w.done }

// ForceClose tears the browser session down out from under the worker.
// The shutdown fallback when cooperative stop overruns its grace period.
func (w *Worker) ForceClose() {
	w.mu.Lock()
	d := w.driver
	w.driver = nil
	w.mu.Unlock()
	if d != nil {
		w.logger.Warn("forcing browser teardown")
		_ = d.Close()
	}
}

func (w *Worker) setDriver(d browser.Driver) {
	w.mu.Lock()
	w.driver = d
	w.mu.Unlock()
}

func (w *Worker) closeDriver() {
	w.mu.Lock()
	d := w.driver
	w.driver = nil
	w.mu.Unlock()
	if d != nil {
		_ = d.Close()
	}
}

// Run executes the acquisition until a terminal state, then returns.
// Cancel ctx to request a cooperative stop; it is honored at the top of
// every loop iteration and around every blocking call.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	defer w.closeDriver()

	err := w.acquire(ctx)
	switch {
	case err == nil:
		// acquire set Succeeded itself.
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		w.logger.Info("stopped")
		w.setStatus(model.StatusStopped)
	default:
		w.logger.Error("acquisition failed", zap.Error(err))
		w.mu.Lock()
		w.failure = err
		w.mu.Unlock()
		w.emit(notify.Failure(w.target, err))
		w.setStatus(model.StatusFailed)
	}
}

// emit delivers an event without being cut short by a stop request.
func (w *Worker) emit(event notify.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := w.deps.Notifier.Emit(ctx, event); err != nil {
		w.logger.Warn("event emit failed", zap.Error(err))
	}
}

func (w *Worker) acquire(ctx context.Context) error {
	w.setStatus(model.StatusAuthenticating)

	driver, err := w.deps.NewDriver()
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrBrowserSetup, err)
	}
	w.setDriver(driver)

	// Consecutive transient failures share one budget across the whole
	// run; any successful network call resets it.
	consecutive := 0
	retry := func(op string, err error) error {
		consecutive++
		w.logger.Warn("transient error",
			zap.String("op", op), zap.Int("consecutive", consecutive), zap.Error(err))
		if consecutive >= w.settings.MaxRetries {
			return fmt.Errorf("%s: retry budget exhausted: %w", op, err)
		}
		return w.sleep(ctx, w.settings.RetryDelay)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := w.deps.Client.Login(ctx, w.settings.Credentials)
		if err == nil {
			break
		}
		if errors.Is(err, model.ErrAuthFailed) {
			return err
		}
		if model.IsTransient(err) {
			if rerr := retry("login", err); rerr != nil {
				return rerr
			}
			continue
		}
		return fmt.Errorf("login: %w", err)
	}
	consecutive = 0
	w.logger.Info("authenticated", zap.String("site", w.target.Site))

	for w.target.URL != "" {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.driverOp().Navigate(ctx, w.target.URL); err != nil {
			if rerr := retry("navigate", err); rerr != nil {
				return rerr
			}
			continue
		}
		break
	}
	consecutive = 0

	solver := w.deps.NewSolver(driver)
	w.setStatus(model.StatusPolling)
	cycle := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cycle++

		seats, err := w.deps.Client.AvailableSeats(ctx, w.target.ID)
		if err != nil {
			if errors.Is(err, model.ErrAuthFailed) {
				return err
			}
			if model.IsTransient(err) {
				if rerr := retry("availability", err); rerr != nil {
					return rerr
				}
				continue
			}
			return fmt.Errorf("availability: %w", err)
		}
		consecutive = 0

		ranked := Select(seats, w.target.MaxPrice, w.target.PreferredSeats)
		if len(ranked) == 0 {
			// Normal outcome, not an error: keep polling.
			w.logger.Debug("no suitable seats", zap.Int("cycle", cycle), zap.Int("seen", len(seats)))
			if err := w.sleep(ctx, w.settings.RefreshInterval); err != nil {
				return err
			}
			continue
		}

		seat := ranked[0]
		w.setStatus(model.StatusCandidateFound)
		w.logger.Info("candidate found",
			zap.String("seat", seat.ID), zap.String("category", seat.Category), zap.Int("price", seat.Price))
		// Tell the user before attempting the reservation: the attempt can
		// still lose a race with another buyer.
		w.emit(notify.CandidateFound(w.target, seat))

		w.setStatus(model.StatusBooking)
		result, err := w.book(ctx, solver, seat)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, model.ErrBookingConflict):
				w.logger.Info("seat taken by another buyer, resuming polling", zap.String("seat", seat.ID))
				w.setStatus(model.StatusPolling)
				continue
			case errors.Is(err, model.ErrCaptchaUnsolved):
				w.logger.Warn("captcha unsolved, aborting this attempt", zap.String("seat", seat.ID))
				w.setStatus(model.StatusPolling)
				continue
			case model.IsTransient(err):
				if rerr := retry("booking", err); rerr != nil {
					return rerr
				}
				w.setStatus(model.StatusPolling)
				continue
			default:
				return fmt.Errorf("booking: %w", err)
			}
		}

		w.mu.Lock()
		w.result = result
		w.mu.Unlock()
		w.emit(notify.PurchaseSucceeded(w.target, *result))
		w.saveBooking(seat, *result)
		w.setStatus(model.StatusSucceeded)
		w.logger.Info("purchase succeeded",
			zap.String("order", result.OrderID), zap.Int("price", result.Price))
		return nil
	}
}

// book resolves any challenge gating the page, then attempts the
// reservation for one candidate.
func (w *Worker) book(ctx context.Context, solver Solver, seat model.SeatCandidate) (*model.BookingResult, error) {
	if w.settings.AutoSolve {
		ch, err := solver.Detect(ctx)
		if err != nil {
			// Detection is a heuristic sweep; a failed sweep means we book
			// blind, which the site will reject if a gate was really there.
			w.logger.Warn("captcha detection failed", zap.Error(err))
		} else if ch.Type != captcha.TypeNone {
			outcome, err := solver.Solve(ctx, ch)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", model.ErrCaptchaUnsolved, err)
			}
			switch outcome {
			case captcha.OutcomeFailed:
				return nil, model.ErrCaptchaUnsolved
			case captcha.OutcomeUnknown:
				// The challenge surfaced no verdict within the wait. The
				// drag may well have passed, so press on, but say so.
				w.logger.Warn("captcha outcome unknown, proceeding tentatively",
					zap.String("type", ch.Type.String()))
			}
		}
	}

	if err := w.deps.Client.Book(ctx, seat.ID); err != nil {
		return nil, err
	}

	result, err := w.deps.Client.LatestOrder(ctx)
	if err != nil || result == nil {
		// The reservation is in; a missing order lookup must not undo it.
		w.logger.Warn("order lookup failed after booking", zap.Error(err))
		result = &model.BookingResult{SeatCategory: seat.Category, Price: seat.Price}
	}
	if result.SeatCategory == "" {
		result.SeatCategory = seat.Category
	}
	return result, nil
}

func (w *Worker) saveBooking(seat model.SeatCandidate, result model.BookingResult) {
	if w.deps.Bookings == nil {
		return
	}
	rec := store.Record{
		TargetID:   w.target.ID,
		TargetName: w.target.Name,
		Venue:      w.target.Venue,
		Date:       w.target.Date,
		Seat:       seat,
		Booking:    result,
		SavedAt:    time.Now(),
	}
	if err := w.deps.Bookings.Append(rec); err != nil {
		w.logger.Warn("could not persist booking", zap.Error(err))
	}
}

// driverOp returns the driver for one operation, or a closed-driver stub
// after a forced teardown so in-flight calls fail instead of panicking.
func (w *Worker) driverOp() browser.Driver {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.driver != nil {
		return w.driver
	}
	return closedDriver{}
}

// closedDriver fails every operation; it stands in after ForceClose.
type closedDriver struct{}

var errSessionClosed = errors.New("browser session closed")

func (closedDriver) Navigate(context.Context, string) error          { return errSessionClosed }
func (closedDriver) WaitVisible(context.Context, string) error       { return errSessionClosed }
func (closedDriver) ElementExists(context.Context, string) (bool, error) {
	return false, errSessionClosed
}
func (closedDriver) ElementVisible(context.Context, string) (bool, error) {
	return false, errSessionClosed
}
func (closedDriver) Text(context.Context, string) (string, error) { return "", errSessionClosed }
func (closedDriver) Attribute(context.Context, string, string) (string, bool, error) {
	return "", false, errSessionClosed
}
func (closedDriver) Screenshot(context.Context, string) ([]byte, error) {
	return nil, errSessionClosed
}
func (closedDriver) SetValue(context.Context, string, string) error { return errSessionClosed }
func (closedDriver) Click(context.Context, string) error            { return errSessionClosed }
func (closedDriver) Box(context.Context, string) (browser.Box, error) {
	return browser.Box{}, errSessionClosed
}
func (closedDriver) PressHold(context.Context, string) error { return errSessionClosed }
func (closedDriver) MoveBy(context.Context, int, int) error  { return errSessionClosed }
func (closedDriver) Release(context.Context) error           { return errSessionClosed }
func (closedDriver) Reload(context.Context) error            { return errSessionClosed }
func (closedDriver) Close() error                            { return nil }

func (w *Worker) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
