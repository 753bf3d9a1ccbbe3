package watchclient

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the controller's lifecycle position.
type State string

const (
	StateIdle         State = "idle"
	StateStarting     State = "starting"
	StateActive       State = "active"
	StateLimitReached State = "limit_reached"
	StateEnded        State = "ended"
	StateError        State = "error"
)

// Reasons accepted by the end operation.
const (
	ReasonManual     = "manual"
	ReasonTimeLimit  = "time_limit"
	ReasonDailyLimit = "daily_limit"
	ReasonSwipeExit  = "swipe_exit"
	ReasonError      = "error"
)

type ControllerConfig struct {
	// HeartbeatInterval is the base tick. Defaults to 60s.
	HeartbeatInterval time.Duration
	// MaxInterval caps the backoff. Defaults to 5x HeartbeatInterval.
	MaxInterval time.Duration
	// MaxConsecutiveFailures stops the loop after this many transient
	// failures in a row. 0 keeps retrying for as long as the session lives.
	MaxConsecutiveFailures int
	// EndTimeout bounds the detached termination request fired on Close.
	// Defaults to 5s.
	EndTimeout time.Duration
	// PositionFunc, if set, is polled before each heartbeat for the current
	// playback position to report.
	PositionFunc func() *int
}

// Controller drives one watch session: it issues the start call, runs the
// heartbeat loop, and guarantees a termination attempt on teardown. It is an
// explicit single-slot scheduler — the loop never has more than one request
// in flight, and the next fire time only exists after the previous request
// settled. Each controller owns a cancellation token created at construction
// and invalidated exactly once, so a replaced controller can never apply a
// stale response to its successor's session.
type Controller struct {
	client *Client
	cfg    ControllerConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	sessionID  string
	elapsed    int
	remaining  *int
	lastErr    error
	nextFireAt time.Time
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	closeOnce  sync.Once
}

func NewController(client *Client, cfg ControllerConfig) *Controller {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 60 * time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * cfg.HeartbeatInterval
	}
	if cfg.EndTimeout <= 0 {
		cfg.EndTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		client: client,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		state:  StateIdle,
	}
}

// Start opens the session and, on success, launches the heartbeat loop. A
// budget-exhausted rejection moves straight to StateLimitReached without
// ever scheduling a heartbeat.
func (c *Controller) Start(params StartParams) error {
	return c.start(func() (*StartResult, error) {
		return c.client.StartSession(c.ctx, params)
	})
}

// StartKiosk is Start for the anonymous chip-tap flow.
func (c *Controller) StartKiosk(params KioskStartParams) error {
	return c.start(func() (*StartResult, error) {
		return c.client.StartKioskSession(c.ctx, params)
	})
}

func (c *Controller) start(issue func() (*StartResult, error)) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return errors.New("controller already started")
	}
	c.state = StateStarting
	c.mu.Unlock()

	result, err := issue()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if errors.Is(err, ErrBudgetExhausted) {
			c.state = StateLimitReached
			zero := 0
			c.remaining = &zero
		} else {
			c.state = StateError
			c.lastErr = err
		}
		return err
	}

	c.sessionID = result.SessionID
	c.remaining = result.RemainingMinutes
	c.state = StateActive

	loopCtx, loopCancel := context.WithCancel(c.ctx)
	c.loopCancel = loopCancel
	c.loopDone = make(chan struct{})
	go c.loop(loopCtx)

	return nil
}

// loop is the single-slot scheduler. It blocks on the in-flight request, so
// at most one heartbeat exists at any time; success resets the interval to
// the base, transient failure doubles it up to the cap.
func (c *Controller) loop(ctx context.Context) {
	defer close(c.loopDone)

	interval := c.cfg.HeartbeatInterval
	failures := 0

	for {
		c.mu.Lock()
		c.nextFireAt = time.Now().Add(interval)
		c.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		var position *int
		if c.cfg.PositionFunc != nil {
			position = c.cfg.PositionFunc()
		}

		result, err := c.client.Heartbeat(ctx, c.sessionID, position)
		switch {
		case err == nil:
			failures = 0
			interval = c.cfg.HeartbeatInterval
			c.mu.Lock()
			c.elapsed = result.ElapsedSeconds
			c.remaining = result.RemainingMinutes
			c.mu.Unlock()

			if result.LimitReached {
				// Advisory from the server; it is our job to terminate.
				c.endSession(ctx, ReasonDailyLimit, position)
				c.mu.Lock()
				c.state = StateLimitReached
				c.mu.Unlock()
				return
			}

		case ctx.Err() != nil:
			return

		case errors.Is(err, ErrSessionEnded), errors.Is(err, ErrSessionNotFound):
			// Someone else ended the session; stop polling.
			c.mu.Lock()
			c.state = StateEnded
			c.mu.Unlock()
			return

		default:
			failures++
			if c.cfg.MaxConsecutiveFailures > 0 && failures >= c.cfg.MaxConsecutiveFailures {
				c.mu.Lock()
				c.state = StateError
				c.lastErr = err
				c.mu.Unlock()
				return
			}
			interval *= 2
			if interval > c.cfg.MaxInterval {
				interval = c.cfg.MaxInterval
			}
		}
	}
}

// Stop cancels any pending heartbeat and ends the session with the given
// reason. Safe to call more than once: the server-side terminal write is
// idempotent and the second result simply reports AlreadyEnded.
func (c *Controller) Stop(reason string) (*EndResult, error) {
	c.mu.Lock()
	if c.sessionID == "" {
		c.mu.Unlock()
		return nil, errors.New("no session")
	}
	if c.loopCancel != nil {
		c.loopCancel()
	}
	done := c.loopDone
	c.mu.Unlock()

	if done != nil {
		// Let the in-flight heartbeat settle before ending.
		<-done
	}

	var position *int
	if c.cfg.PositionFunc != nil {
		position = c.cfg.PositionFunc()
	}
	result, err := c.endSession(c.ctx, reason, position)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.state != StateLimitReached {
		c.state = StateEnded
	}
	c.mu.Unlock()
	return result, nil
}

func (c *Controller) endSession(ctx context.Context, reason string, position *int) (*EndResult, error) {
	return c.client.EndSession(ctx, c.sessionID, reason, position)
}

// Close invalidates the controller's token, aborting any in-flight request,
// and fires a best-effort detached termination so an end signal is still
// attempted while the surrounding program is being torn down. At-most-once,
// not guaranteed.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		needsEnd := c.state == StateActive || c.state == StateStarting
		sessionID := c.sessionID
		c.mu.Unlock()

		c.cancel()

		if needsEnd && sessionID != "" {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), c.cfg.EndTimeout)
				defer cancel()
				_, _ = c.client.EndSession(ctx, sessionID, ReasonManual, nil)
			}()
		}
	})
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// RemainingMinutes is the last budget projection received from the server;
// nil for anonymous sessions.
func (c *Controller) RemainingMinutes() *int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

func (c *Controller) ElapsedSeconds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// NextFireAt reports when the next heartbeat is allowed to fire. Zero before
// the first schedule.
func (c *Controller) NextFireAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextFireAt
}
