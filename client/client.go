// Package watchclient is the Go client for the watch session service. It is
// consumed by the kiosk player binary: Client is the thin wire layer,
// Controller drives the heartbeat loop and owns session teardown.
package watchclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for conditions the controller reacts to. Wire errors carry
// them via APIError.Is, so errors.Is works on everything Client returns.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionEnded    = errors.New("session ended")
	ErrBudgetExhausted = errors.New("daily budget exhausted")
	ErrChipMismatch    = errors.New("chip does not match profile")
)

// APIError is a non-2xx response from the service.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrSessionNotFound:
		return e.Code == "NOT_FOUND" && e.Status == http.StatusNotFound
	case ErrSessionEnded:
		return e.Code == "SESSION_ENDED"
	case ErrBudgetExhausted:
		return e.Code == "DAILY_BUDGET_EXHAUSTED"
	case ErrChipMismatch:
		return e.Code == "CHIP_PROFILE_MISMATCH"
	}
	return false
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

// WithToken sets the parent API token. Kiosk flows run without one.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type StartParams struct {
	ProfileID *string `json:"profileId,omitempty"`
	VideoID   string  `json:"videoId"`
	NfcChipID *string `json:"nfcChipId,omitempty"`
}

type KioskStartParams struct {
	ChipUID   string  `json:"nfcChipUid"`
	ProfileID *string `json:"profileId,omitempty"`
}

type StartResult struct {
	SessionID        string    `json:"sessionId"`
	StartedAt        time.Time `json:"startedAt"`
	RemainingMinutes *int      `json:"remainingMinutes,omitempty"`
}

type HeartbeatResult struct {
	ElapsedSeconds   int  `json:"elapsedSeconds"`
	LimitReached     bool `json:"limitReached"`
	RemainingMinutes *int `json:"remainingMinutes,omitempty"`
}

type EndResult struct {
	DurationSeconds int    `json:"durationSeconds"`
	StoppedReason   string `json:"stoppedReason"`
	AlreadyEnded    bool   `json:"alreadyEnded"`
}

func (c *Client) StartSession(ctx context.Context, params StartParams) (*StartResult, error) {
	var result StartResult
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) StartKioskSession(ctx context.Context, params KioskStartParams) (*StartResult, error) {
	var result StartResult
	if err := c.do(ctx, http.MethodPost, "/kiosk/sessions", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Heartbeat(ctx context.Context, sessionID string, position *int) (*HeartbeatResult, error) {
	body := map[string]any{}
	if position != nil {
		body["currentPositionSeconds"] = *position
	}
	var result HeartbeatResult
	if err := c.do(ctx, http.MethodPost, "/v1/sessions/"+sessionID+"/heartbeat", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) EndSession(ctx context.Context, sessionID, reason string, finalPosition *int) (*EndResult, error) {
	body := map[string]any{"stoppedReason": reason}
	if finalPosition != nil {
		body["finalPositionSeconds"] = *finalPosition
	}
	var result EndResult
	if err := c.do(ctx, http.MethodPost, "/v1/sessions/"+sessionID+"/end", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if decodeErr := json.NewDecoder(resp.Body).Decode(apiErr); decodeErr != nil {
			apiErr.Message = resp.Status
		}
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
