// Package captcha detects and solves the anti-bot challenges that gate
// booking pages: image captchas through an OCR pipeline and slider
// captchas through a synthetic human-like drag. Audio challenges are
// recognized but never solved.
package captcha

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"tickgrabber/internal/browser"
)

// Type tags a detected challenge.
type Type int

const (
	// TypeNone means no challenge markers are present on the page.
	TypeNone Type = iota
	TypeImage
	TypeSlider
	TypeAudio
	// TypeUnknown means challenge markers exist but none of the known
	// structural heuristics matched. Solving it fails fast.
	TypeUnknown
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeImage:
		return "image"
	case TypeSlider:
		return "slider"
	case TypeAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Challenge is one detected challenge, scoped to a single solve attempt.
// Selector points at the matched marker element.
type Challenge struct {
	Type     Type
	Selector string
}

// Outcome of a solve attempt. Sliders that surface neither a success nor
// an error indicator within the bounded wait report OutcomeUnknown; the
// caller decides whether to proceed on it.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeSolved
	OutcomeUnknown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSolved:
		return "solved"
	case OutcomeUnknown:
		return "unknown"
	default:
		return "failed"
	}
}

// Structural heuristics, checked in order; first match wins.
var (
	imageSelectors = []string{
		"img[alt*='captcha']",
		"img[src*='captcha']",
		"img.captcha",
		".captcha img",
		"#captchaImage",
	}
	sliderSelectors = []string{
		".slider-captcha",
		".captcha-slider",
		".geetest_slider",
		".sliderContainer",
	}
	audioSelectors = []string{
		"audio[src*='captcha']",
		".audio-captcha",
		"a[href*='audio']",
	}
	// Generic container markers used only to tell "a challenge exists
	// but we cannot classify it" apart from "no challenge at all".
	containerSelectors = []string{
		"[class*='captcha']",
		"#captcha",
		".geetest_panel",
	}

	inputSelectors = []string{
		"input[name*='captcha']",
		"input[id*='captcha']",
		"input.captcha",
		"#captchaInput",
		".captcha input",
	}
	submitSelectors = []string{
		"button[type='submit']",
		"input[type='submit']",
		".captcha-submit",
	}
	errorSelectors = []string{
		".captcha-error",
		".error-message",
		"#errorMsg",
		".alert-danger",
		".geetest_error",
	}
	successSelectors = []string{
		".captcha-success",
		".geetest_success",
	}

	sliderHandleSelectors = []string{
		".slider-button",
		".geetest_slider_button",
		".handler",
		".sliderContainer .slider",
	}
	sliderTrackSelectors = []string{
		".slider-track",
		".geetest_slider_track",
		".sliderContainer",
	}
)

// Solver owns one page's challenge handling. It drives the browser the
// worker owns; it has no state across solve attempts.
type Solver struct {
	driver    browser.Driver
	local     Recognizer
	fallback  Recognizer // nil when no external service is configured
	logger    *zap.Logger
	threshold uint8
	wait      time.Duration // bounded wait for slider feedback
	settle    time.Duration // page settle time after submitting an answer
}

// Option tweaks Solver construction.
type Option func(*Solver)

// WithFallback sets the external recognition service used when local OCR
// returns nothing.
func WithFallback(r Recognizer) Option {
	return func(s *Solver) { s.fallback = r }
}

// WithThreshold overrides the binarization cutoff.
func WithThreshold(t uint8) Option {
	return func(s *Solver) {
		if t > 0 {
			s.threshold = t
		}
	}
}

// WithWait bounds the wait for slider success/error feedback.
func WithWait(d time.Duration) Option {
	return func(s *Solver) {
		if d > 0 {
			s.wait = d
		}
	}
}

// NewSolver builds a Solver over the given driver and local recognizer.
func NewSolver(driver browser.Driver, local Recognizer, logger *zap.Logger, opts ...Option) *Solver {
	s := &Solver{
		driver:    driver,
		local:     local,
		logger:    logger,
		threshold: DefaultThreshold,
		wait:      10 * time.Second,
		settle:    2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Detect classifies the challenge currently on the page. TypeNone means
// the page is not gated at all.
func (s *Solver) Detect(ctx context.Context) (Challenge, error) {
	checks := []struct {
		typ       Type
		selectors []string
	}{
		{TypeImage, imageSelectors},
		{TypeSlider, sliderSelectors},
		{TypeAudio, audioSelectors},
	}
	for _, check := range checks {
		for _, sel := range check.selectors {
			found, err := s.driver.ElementExists(ctx, sel)
			if err != nil {
				return Challenge{}, err
			}
			if found {
				return Challenge{Type: check.typ, Selector: sel}, nil
			}
		}
	}
	for _, sel := range containerSelectors {
		found, err := s.driver.ElementExists(ctx, sel)
		if err != nil {
			return Challenge{}, err
		}
		if found {
			return Challenge{Type: TypeUnknown, Selector: sel}, nil
		}
	}
	return Challenge{Type: TypeNone}, nil
}

// Solve attempts the challenge and reports the outcome. Operational
// errors (browser gone, context cancelled) come back as errors; a clean
// "could not solve" is OutcomeFailed with a nil error.
func (s *Solver) Solve(ctx context.Context, ch Challenge) (Outcome, error) {
	s.logger.Info("solving captcha", zap.String("type", ch.Type.String()))
	switch ch.Type {
	case TypeImage:
		return s.solveImage(ctx, ch)
	case TypeSlider:
		return s.solveSlider(ctx)
	case TypeAudio:
		// Needs speech recognition, which this system does not carry.
		s.logger.Warn("audio captcha is not supported")
		return OutcomeFailed, nil
	default:
		return OutcomeFailed, fmt.Errorf("cannot solve captcha type %s", ch.Type)
	}
}

func (s *Solver) solveImage(ctx context.Context, ch Challenge) (Outcome, error) {
	raw, err := s.challengeImage(ctx, ch.Selector)
	if err != nil {
		return OutcomeFailed, err
	}

	prepared, err := Preprocess(raw, s.threshold)
	if err != nil {
		return OutcomeFailed, err
	}

	text, err := s.local.Recognize(ctx, prepared)
	if err != nil {
		s.logger.Warn("local ocr failed", zap.Error(err))
		text = ""
	}
	text = strings.TrimSpace(text)
	if text == "" && s.fallback != nil {
		text, err = s.fallback.Recognize(ctx, prepared)
		if err != nil {
			s.logger.Warn("recognition service failed", zap.Error(err))
			text = ""
		}
		text = strings.TrimSpace(text)
	}
	if text == "" {
		return OutcomeFailed, nil
	}
	s.logger.Info("captcha recognized", zap.String("answer", text))

	input, ok, err := s.firstExisting(ctx, inputSelectors)
	if err != nil {
		return OutcomeFailed, err
	}
	if !ok {
		return OutcomeFailed, fmt.Errorf("captcha input not found")
	}
	if err := s.driver.SetValue(ctx, input, text); err != nil {
		return OutcomeFailed, err
	}

	if submit, ok, err := s.firstExisting(ctx, submitSelectors); err != nil {
		return OutcomeFailed, err
	} else if ok {
		if err := s.driver.Click(ctx, submit); err != nil {
			return OutcomeFailed, err
		}
	}

	if err := sleep(ctx, s.settle); err != nil {
		return OutcomeFailed, err
	}
	for _, sel := range errorSelectors {
		visible, err := s.driver.ElementVisible(ctx, sel)
		if err != nil {
			return OutcomeFailed, err
		}
		if visible {
			msg, _ := s.driver.Text(ctx, sel)
			s.logger.Warn("captcha rejected", zap.String("message", strings.TrimSpace(msg)))
			return OutcomeFailed, nil
		}
	}
	return OutcomeSolved, nil
}

// challengeImage extracts the challenge image bytes, from an inline data
// URL when the site provides one, otherwise by screenshotting the element.
func (s *Solver) challengeImage(ctx context.Context, selector string) ([]byte, error) {
	src, ok, err := s.driver.Attribute(ctx, selector, "src")
	if err == nil && ok && strings.HasPrefix(src, "data:image") {
		parts := strings.SplitN(src, ",", 2)
		if len(parts) == 2 {
			if raw, decErr := decodeBase64(parts[1]); decErr == nil {
				return raw, nil
			}
		}
	}
	return s.driver.Screenshot(ctx, selector)
}

func (s *Solver) solveSlider(ctx context.Context) (Outcome, error) {
	handle, ok, err := s.firstVisible(ctx, sliderHandleSelectors)
	if err != nil {
		return OutcomeFailed, err
	}
	if !ok {
		return OutcomeFailed, fmt.Errorf("slider handle not found")
	}

	distance := s.dragDistance(ctx, handle)
	moves := Trajectory(distance)
	s.logger.Debug("replaying drag",
		zap.Int("distance", distance), zap.Int("steps", len(moves)))

	if err := s.driver.PressHold(ctx, handle); err != nil {
		return OutcomeFailed, err
	}
	for _, dx := range moves {
		if err := s.driver.MoveBy(ctx, dx, 0); err != nil {
			return OutcomeFailed, err
		}
		// Keep the replay on a human-ish cadence.
		if err := sleep(ctx, time.Duration(10+rand.Intn(15))*time.Millisecond); err != nil {
			return OutcomeFailed, err
		}
	}
	// Humans hesitate before letting go.
	if err := sleep(ctx, 500*time.Millisecond); err != nil {
		return OutcomeFailed, err
	}
	if err := s.driver.Release(ctx); err != nil {
		return OutcomeFailed, err
	}

	return s.awaitSliderResult(ctx)
}

// dragDistance derives the drag length from track and handle geometry.
// When the page hides the geometry a bounded random distance stands in,
// which at worst costs one retry.
func (s *Solver) dragDistance(ctx context.Context, handle string) int {
	handleBox, err := s.driver.Box(ctx, handle)
	if err != nil {
		return 50 + rand.Intn(100)
	}
	for _, sel := range sliderTrackSelectors {
		trackBox, err := s.driver.Box(ctx, sel)
		if err != nil {
			continue
		}
		if d := int(trackBox.Width - handleBox.Width); d > 0 {
			return d
		}
	}
	return 50 + rand.Intn(100)
}

// awaitSliderResult polls for an explicit success or error indicator.
// Slider widgets do not always surface either; after the bounded wait
// the outcome is reported as unknown rather than assumed solved.
func (s *Solver) awaitSliderResult(ctx context.Context) (Outcome, error) {
	deadline := time.Now().Add(s.wait)
	for time.Now().Before(deadline) {
		for _, sel := range successSelectors {
			visible, err := s.driver.ElementVisible(ctx, sel)
			if err != nil {
				return OutcomeFailed, err
			}
			if visible {
				return OutcomeSolved, nil
			}
		}
		for _, sel := range errorSelectors {
			visible, err := s.driver.ElementVisible(ctx, sel)
			if err != nil {
				return OutcomeFailed, err
			}
			if visible {
				return OutcomeFailed, nil
			}
		}
		if err := sleep(ctx, 500*time.Millisecond); err != nil {
			return OutcomeFailed, err
		}
	}
	s.logger.Warn("slider gave no success or error indicator")
	return OutcomeUnknown, nil
}

func (s *Solver) firstExisting(ctx context.Context, selectors []string) (string, bool, error) {
	for _, sel := range selectors {
		found, err := s.driver.ElementExists(ctx, sel)
		if err != nil {
			return "", false, err
		}
		if found {
			return sel, true, nil
		}
	}
	return "", false, nil
}

func (s *Solver) firstVisible(ctx context.Context, selectors []string) (string, bool, error) {
	for _, sel := range selectors {
		visible, err := s.driver.ElementVisible(ctx, sel)
		if err != nil {
			return "", false, err
		}
		if visible {
			return sel, true, nil
		}
	}
	return "", false, nil
}

func decodeBase64(data string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(data)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
