// Package site holds the ticketing-site API capability. The engine only
// sees the Client interface; the variants here are structural stubs whose
// real protocols are site-specific and out of scope.
package site

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"go.uber.org/zap"

	"tickgrabber/internal/model"
)

// Client is the narrow site API surface the engine depends on.
type Client interface {
	Login(ctx context.Context, creds model.Credentials) error
	AvailableSeats(ctx context.Context, targetID string) ([]model.SeatCandidate, error)
	Book(ctx context.Context, seatID string) error
	LatestOrder(ctx context.Context) (*model.BookingResult, error)
}

// Factory builds a fresh Client for the named site. Each worker gets its
// own instance, selected once at construction and never re-dispatched.
type Factory func(site string) (Client, error)

// spec captures what actually differs between the supported sites.
type spec struct {
	name      string
	baseURL   string
	loginPath string
	userField string
	passField string
}

var specs = map[string]spec{
	"interpark": {
		name:      "interpark",
		baseURL:   "https://tickets.interpark.com",
		loginPath: "/user/login",
		userField: "username",
		passField: "password",
	},
	"yes24": {
		name:      "yes24",
		baseURL:   "https://ticket.yes24.com",
		loginPath: "/Login",
		userField: "userId",
		passField: "userPw",
	},
	"melon": {
		name:      "melon",
		baseURL:   "https://ticket.melon.com",
		loginPath: "/login",
		userField: "id",
		passField: "pw",
	},
}

// Supported reports whether a client variant exists for the named site.
func Supported(name string) bool {
	_, ok := specs[name]
	return ok
}

// New returns the Client variant for the named site.
func New(name string, timeout time.Duration, logger *zap.Logger) (Client, error) {
	sp, ok := specs[name]
	if !ok {
		return nil, fmt.Errorf("unsupported ticketing site: %s", name)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &httpClient{
		spec:   sp,
		client: &http.Client{Timeout: timeout, Jar: jar},
		logger: logger.With(zap.String("site", sp.name)),
	}, nil
}

// NewFactory returns a Factory closed over the shared settings.
func NewFactory(timeout time.Duration, logger *zap.Logger) Factory {
	return func(site string) (Client, error) {
		return New(site, timeout, logger)
	}
}
