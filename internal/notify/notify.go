// Package notify carries acquisition events to the user. The engine only
// emits; which transports actually deliver is configuration.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tickgrabber/internal/model"
)

// Kind is the event contract between the engine and its observers.
type Kind string

const (
	KindCandidateFound    Kind = "candidate_found"
	KindPurchaseSucceeded Kind = "purchase_succeeded"
	KindError             Kind = "error"
)

// Event is one structured notification. Exactly one of Seat, Booking or
// Err is set, matching the Kind.
type Event struct {
	ID      string               `json:"id"`
	Kind    Kind                 `json:"kind"`
	Target  model.Target         `json:"target"`
	Seat    *model.SeatCandidate `json:"seat,omitempty"`
	Booking *model.BookingResult `json:"booking,omitempty"`
	Err     string               `json:"error,omitempty"`
	At      time.Time            `json:"at"`
}

// CandidateFound builds the event emitted before a booking attempt.
func CandidateFound(target model.Target, seat model.SeatCandidate) Event {
	return Event{
		ID:     uuid.NewString(),
		Kind:   KindCandidateFound,
		Target: target,
		Seat:   &seat,
		At:     time.Now(),
	}
}

// PurchaseSucceeded builds the terminal success event.
func PurchaseSucceeded(target model.Target, booking model.BookingResult) Event {
	return Event{
		ID:      uuid.NewString(),
		Kind:    KindPurchaseSucceeded,
		Target:  target,
		Booking: &booking,
		At:      time.Now(),
	}
}

// Failure builds the terminal error event.
func Failure(target model.Target, err error) Event {
	return Event{
		ID:     uuid.NewString(),
		Kind:   KindError,
		Target: target,
		Err:    err.Error(),
		At:     time.Now(),
	}
}

// Title is the human-readable headline for an event.
func (e Event) Title() string {
	switch e.Kind {
	case KindCandidateFound:
		return fmt.Sprintf("Tickets available: %s", e.Target.Name)
	case KindPurchaseSucceeded:
		return fmt.Sprintf("Purchase succeeded: %s", e.Target.Name)
	default:
		return fmt.Sprintf("Acquisition error: %s", e.Target.Name)
	}
}

// Body is the human-readable detail text for an event.
func (e Event) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Event: %s\nDate: %s\nVenue: %s\n", e.Target.Name, e.Target.Date, e.Target.Venue)
	switch {
	case e.Seat != nil:
		fmt.Fprintf(&b, "Seat category: %s\nPrice: %d\n", e.Seat.Category, e.Seat.Price)
		if e.Target.URL != "" {
			fmt.Fprintf(&b, "Booking page: %s\n", e.Target.URL)
		}
	case e.Booking != nil:
		fmt.Fprintf(&b, "Seat category: %s\nOrder: %s\nPrice: %d\n",
			e.Booking.SeatCategory, e.Booking.OrderID, e.Booking.Price)
		if e.Booking.PaymentDeadline != "" {
			fmt.Fprintf(&b, "Pay before: %s\n", e.Booking.PaymentDeadline)
		}
		if e.Booking.OrderURL != "" {
			fmt.Fprintf(&b, "Order page: %s\n", e.Booking.OrderURL)
		}
	case e.Err != "":
		fmt.Fprintf(&b, "Error: %s\n", e.Err)
	}
	return b.String()
}

// Notifier delivers events. Implementations must be safe for concurrent
// use; every worker emits through the same instance.
type Notifier interface {
	Emit(ctx context.Context, event Event) error
}

// LogNotifier writes events to the structured log. Always enabled so no
// outcome is silently dropped even with every transport off.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n *LogNotifier) Emit(_ context.Context, event Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("kind", string(event.Kind)),
		zap.String("target", event.Target.ID),
	}
	if event.Seat != nil {
		fields = append(fields,
			zap.String("category", event.Seat.Category), zap.Int("price", event.Seat.Price))
	}
	if event.Booking != nil {
		fields = append(fields, zap.String("order", event.Booking.OrderID))
	}
	if event.Err != "" {
		fields = append(fields, zap.String("error", event.Err))
	}
	n.Logger.Info(event.Title(), fields...)
	return nil
}

// Multi fans an event out to every transport, logging and continuing on
// per-transport failures so one broken channel cannot mute the rest.
type Multi struct {
	Notifiers []Notifier
	Logger    *zap.Logger
}

func (m *Multi) Emit(ctx context.Context, event Event) error {
	for _, n := range m.Notifiers {
		if err := n.Emit(ctx, event); err != nil {
			m.Logger.Warn("notification delivery failed",
				zap.String("event_id", event.ID), zap.Error(err))
		}
	}
	return nil
}
