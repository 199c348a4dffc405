package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"tickgrabber/internal/browser"
	"tickgrabber/internal/model"
	"tickgrabber/internal/notify"
	"tickgrabber/internal/site"
	"tickgrabber/internal/store"
)

// Orchestrator owns the set of active workers, one per target. The
// id→worker registry is its only shared mutable state; workers never
// touch each other.
type Orchestrator struct {
	newClient site.Factory
	newDriver browser.Factory
	newSolver SolverFactory
	notifier  notify.Notifier
	bookings  *store.Bookings
	logger    *zap.Logger
	settings  Settings

	mu      sync.Mutex
	workers map[string]*entry
	wg      sync.WaitGroup
}

type entry struct {
	worker *Worker
	cancel context.CancelFunc
}

// OrchestratorDeps are the shared collaborators handed to every worker.
type OrchestratorDeps struct {
	NewClient site.Factory
	NewDriver browser.Factory
	NewSolver SolverFactory
	Notifier  notify.Notifier
	Bookings  *store.Bookings // optional
	Logger    *zap.Logger
}

// NewOrchestrator builds the consumer-facing entry point of the engine.
func NewOrchestrator(deps OrchestratorDeps, settings Settings) *Orchestrator {
	return &Orchestrator{
		newClient: deps.NewClient,
		newDriver: deps.NewDriver,
		newSolver: deps.NewSolver,
		notifier:  deps.Notifier,
		bookings:  deps.Bookings,
		logger:    deps.Logger,
		settings:  settings,
		workers:   make(map[string]*entry),
	}
}

// Start launches one worker per target. A target whose id already has an
// active worker is skipped: at most one worker per target id at any time.
func (o *Orchestrator) Start(targets []model.Target) {
	for _, target := range targets {
		o.startOne(target)
	}
}

func (o *Orchestrator) startOne(target model.Target) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if existing, ok := o.workers[target.ID]; ok && !existing.worker.Status().Terminal() {
		o.logger.Info("target already running, ignoring start",
			zap.String("target", target.ID))
		return
	}

	client, err := o.newClient(target.Site)
	if err != nil {
		// A target we cannot even build a client for is reported, not
		// silently dropped.
		o.logger.Error("cannot start target", zap.String("target", target.ID), zap.Error(err))
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = o.notifier.Emit(ctx, notify.Failure(target, err))
		return
	}

	w := NewWorker(target, Deps{
		Client:    client,
		NewDriver: o.newDriver,
		NewSolver: o.newSolver,
		Notifier:  o.notifier,
		Bookings:  o.bookings,
		Logger:    o.logger,
	}, o.settings)

	ctx, cancel := context.WithCancel(context.Background())
	o.workers[target.ID] = &entry{worker: w, cancel: cancel}

	o.logger.Info("starting worker",
		zap.String("target", target.ID), zap.String("site", target.Site))
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		w.Run(ctx)
	}()
}

// Stop requests a cooperative stop of the named worker and blocks until
// it finishes, forcing browser teardown after the grace period.
func (o *Orchestrator) Stop(targetID string) {
	o.mu.Lock()
	e, ok := o.workers[targetID]
	o.mu.Unlock()
	if !ok {
		return
	}
	o.stopEntry(targetID, e)
}

func (o *Orchestrator) stopEntry(targetID string, e *entry) {
	e.cancel()

	grace := o.settings.StopGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-e.worker.Done():
		return
	case <-timer.C:
	}

	// Cooperative shutdown overran its grace period: pull the browser out
	// from under the worker so blocked calls fail and the loop unwinds.
	o.logger.Warn("grace period elapsed, forcing teardown", zap.String("target", targetID))
	e.worker.ForceClose()

	timer.Reset(grace)
	select {
	case <-e.worker.Done():
	case <-timer.C:
		o.logger.Error("worker did not exit after forced teardown", zap.String("target", targetID))
	}
}

// StopAll stops every worker, cooperatively first, forcefully after the
// grace period.
func (o *Orchestrator) StopAll() {
	o.mu.Lock()
	entries := make(map[string]*entry, len(o.workers))
	for id, e := range o.workers {
		entries[id] = e
	}
	o.mu.Unlock()

	var wg sync.WaitGroup
	for id, e := range entries {
		wg.Add(1)
		go func(id string, e *entry) {
			defer wg.Done()
			o.stopEntry(id, e)
		}(id, e)
	}
	wg.Wait()
}

// StatusOf reports the state of the named worker.
func (o *Orchestrator) StatusOf(targetID string) (model.Status, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.workers[targetID]
	if !ok {
		return model.StatusIdle, false
	}
	return e.worker.Status(), true
}

// ResultOf returns the booking result for the named worker; non-nil only
// when that worker succeeded.
func (o *Orchestrator) ResultOf(targetID string) *model.BookingResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.workers[targetID]
	if !ok {
		return nil
	}
	return e.worker.Result()
}

// Wait blocks until every started worker has reached a terminal state.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
