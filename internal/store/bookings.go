// Package store persists successful reservations so they survive the
// process: a payment deadline outlives the grabber run.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"tickgrabber/internal/model"
)

// Record is one saved reservation with enough context to pay for it.
type Record struct {
	TargetID   string              `json:"target_id"`
	TargetName string              `json:"target_name"`
	Venue      string              `json:"venue"`
	Date       string              `json:"date"`
	Seat       model.SeatCandidate `json:"seat"`
	Booking    model.BookingResult `json:"booking"`
	SavedAt    time.Time           `json:"saved_at"`
}

// Bookings appends records to a JSON file. Safe for concurrent workers.
type Bookings struct {
	mu   sync.Mutex
	path string
}

// NewBookings returns a store writing to path.
func NewBookings(path string) *Bookings {
	return &Bookings{path: path}
}

// Append adds a record to the file, creating it if needed.
func (b *Bookings) Append(rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	records, err := b.load()
	if err != nil {
		return err
	}
	records = append(records, rec)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(b.path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", b.path, err)
	}
	return nil
}

// All returns every saved record.
func (b *Bookings) All() ([]Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.load()
}

func (b *Bookings) load() ([]Record, error) {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse %s: %w", b.path, err)
	}
	return records, nil
}
