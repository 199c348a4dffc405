package model

// Target is one event the engine is instructed to acquire tickets for.
// Immutable for the duration of a run.
type Target struct {
	ID             string   `json:"id" mapstructure:"id"`
	Name           string   `json:"name" mapstructure:"name"`
	Venue          string   `json:"venue" mapstructure:"venue"`
	Date           string   `json:"date" mapstructure:"date"`
	URL            string   `json:"url" mapstructure:"url"`
	Site           string   `json:"site" mapstructure:"site"`
	MaxPrice       int      `json:"max_price" mapstructure:"max_price"`             // 0 = unlimited
	PreferredSeats []string `json:"preferred_seats" mapstructure:"preferred_seats"` // ordered, empty = any
}

// SeatCandidate is one available seat discovered during a poll cycle.
// Produced fresh each cycle and never persisted or mutated.
type SeatCandidate struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Price    int    `json:"price"`
	TargetID string `json:"target_id"`
}

// BookingResult describes a successful reservation. It is created only
// when a booking is accepted and is immutable afterwards.
type BookingResult struct {
	SeatCategory    string `json:"seat_category"`
	OrderID         string `json:"order_id"`
	Price           int    `json:"price"`
	PaymentDeadline string `json:"payment_deadline"`
	OrderURL        string `json:"order_url"`
}

// Credentials for a ticketing site login.
type Credentials struct {
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
}

// Status is the lifecycle state of an acquisition worker. It is owned
// exclusively by the worker; everyone else only reads it.
type Status int32

const (
	StatusIdle Status = iota
	StatusAuthenticating
	StatusPolling
	StatusCandidateFound
	StatusBooking
	StatusSucceeded
	StatusFailed
	StatusStopped
)

var statusNames = map[Status]string{
	StatusIdle:           "idle",
	StatusAuthenticating: "authenticating",
	StatusPolling:        "polling",
	StatusCandidateFound: "candidate_found",
	StatusBooking:        "booking",
	StatusSucceeded:      "succeeded",
	StatusFailed:         "failed",
	StatusStopped:        "stopped",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the worker has finished for good.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusStopped
}
