package site

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"tickgrabber/internal/model"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// httpClient implements Client over the session-cookie HTTP flows the
// ticketing sites share. Site differences live entirely in spec.
type httpClient struct {
	spec   spec
	client *http.Client
	logger *zap.Logger
}

type seatDTO struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Price    int    `json:"price"`
}

type orderDTO struct {
	OrderID         string `json:"order_id"`
	SeatCategory    string `json:"seat_category"`
	Price           int    `json:"price"`
	PaymentDeadline string `json:"payment_deadline"`
	OrderURL        string `json:"order_url"`
}

func (c *httpClient) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.client.Do(req)
	if err != nil {
		// Anything the transport refuses (timeout, reset, DNS) is worth
		// retrying; the retry budget lives in the worker.
		return nil, model.Transient(err)
	}
	return resp, nil
}

func (c *httpClient) Login(ctx context.Context, creds model.Credentials) error {
	form := url.Values{}
	form.Set(c.spec.userField, creds.Username)
	form.Set(c.spec.passField, creds.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.spec.baseURL+c.spec.loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// A session that is still on a login page did not authenticate.
	if resp.StatusCode != http.StatusOK ||
		strings.Contains(strings.ToLower(resp.Request.URL.Path), "login") {
		return fmt.Errorf("%w: %s returned %d", model.ErrAuthFailed, c.spec.name, resp.StatusCode)
	}
	c.logger.Info("logged in")
	return nil
}

func (c *httpClient) AvailableSeats(ctx context.Context, targetID string) ([]model.SeatCandidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/event/%s/seats", c.spec.baseURL, targetID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: seat query returned %d", model.ErrAuthFailed, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, model.Transient(fmt.Errorf("seat query returned %d", resp.StatusCode))
	default:
		return nil, fmt.Errorf("seat query returned %d", resp.StatusCode)
	}

	var dtos []seatDTO
	if err := json.NewDecoder(resp.Body).Decode(&dtos); err != nil {
		return nil, fmt.Errorf("decode seats: %w", err)
	}
	seats := make([]model.SeatCandidate, 0, len(dtos))
	for _, d := range dtos {
		seats = append(seats, model.SeatCandidate{
			ID:       d.ID,
			Category: d.Category,
			Price:    d.Price,
			TargetID: targetID,
		})
	}
	return seats, nil
}

func (c *httpClient) Book(ctx context.Context, seatID string) error {
	form := url.Values{}
	form.Set("seat_id", seatID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.spec.baseURL+"/booking", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: seat %s", model.ErrBookingConflict, seatID)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: booking returned %d", model.ErrAuthFailed, resp.StatusCode)
	case resp.StatusCode >= 500:
		return model.Transient(fmt.Errorf("booking returned %d", resp.StatusCode))
	default:
		return fmt.Errorf("booking returned %d", resp.StatusCode)
	}
}

func (c *httpClient) LatestOrder(ctx context.Context) (*model.BookingResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.spec.baseURL+"/order/latest", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("order query returned %d", resp.StatusCode)
	}
	var d orderDTO
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &model.BookingResult{
		SeatCategory:    d.SeatCategory,
		OrderID:         d.OrderID,
		Price:           d.Price,
		PaymentDeadline: d.PaymentDeadline,
		OrderURL:        d.OrderURL,
	}, nil
}
