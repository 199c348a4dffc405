// Package browser exposes the narrow automation capability the engine
// needs from a real browser. The chromedp implementation lives here too;
// tests substitute fakes.
package browser

import "context"

// Box is the on-page geometry of an element, in CSS pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Driver is the browser automation capability. One Driver instance is
// exclusively owned by one worker for its whole lifetime.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string) error
	ElementExists(ctx context.Context, selector string) (bool, error)
	ElementVisible(ctx context.Context, selector string) (bool, error)
	Text(ctx context.Context, selector string) (string, error)
	Attribute(ctx context.Context, selector, name string) (string, bool, error)
	// Screenshot captures the rendered element identified by selector.
	Screenshot(ctx context.Context, selector string) ([]byte, error)
	SetValue(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	Box(ctx context.Context, selector string) (Box, error)

	// Synthetic drag input. PressHold grabs the element's center; MoveBy
	// shifts the held pointer by a relative offset; Release lets go at
	// the current position.
	PressHold(ctx context.Context, selector string) error
	MoveBy(ctx context.Context, dx, dy int) error
	Release(ctx context.Context) error

	Reload(ctx context.Context) error
	Close() error
}

// Factory creates a fresh Driver per worker run.
type Factory func() (Driver, error)
