// Package poller watches a wizard session until its background work settles.
package poller

import (
	"context"
	"errors"
	"time"

	"github.com/imyashkale/mcpwizard/internal/client"
	"github.com/imyashkale/mcpwizard/internal/logger"
	"github.com/imyashkale/mcpwizard/internal/models"
	"github.com/sirupsen/logrus"
)

// DefaultInterval is the time between two fetches
const DefaultInterval = 3 * time.Second

// networkErrorThreshold is the number of consecutive failed fetches before a
// network error is reported
const networkErrorThreshold = 2

// Fetcher reads the current state of a session
type Fetcher interface {
	GetState(ctx context.Context, serverId string) (*models.WizardSessionResponse, error)
}

// Clock schedules the next fetch
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type wallClock struct{}

func (wallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Handlers receive notifications. Nil handlers are skipped.
type Handlers struct {
	OnToolsReady   func(session *models.WizardSessionResponse)
	OnEnvVarsReady func(session *models.WizardSessionResponse)
	OnError        func(message string)
	OnComplete     func(step models.Step)
	OnNetworkError func(err error)
}

// Coordinator polls one session at a time. Stopping it never affects the
// server-side task.
type Coordinator struct {
	fetcher  Fetcher
	clock    Clock
	interval time.Duration
	handlers Handlers

	latch    *Latch
	last     *models.WizardSessionResponse
	failures int
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithClock replaces the wall clock
func WithClock(clock Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithInterval sets the time between fetches
func WithInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.interval = d
		}
	}
}

// New creates a coordinator
func New(fetcher Fetcher, handlers Handlers, opts ...Option) *Coordinator {
	c := &Coordinator{
		fetcher:  fetcher,
		clock:    wallClock{},
		interval: DefaultInterval,
		handlers: handlers,
		latch:    NewLatch(""),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ShouldContinue reports whether another fetch is needed. Before the first
// successful fetch it is always true.
func (c *Coordinator) ShouldContinue() bool {
	return c.last == nil || c.last.ProcessingStatus == models.StatusProcessing
}

// Last returns the most recently fetched state, if any
func (c *Coordinator) Last() *models.WizardSessionResponse {
	return c.last
}

// Watch polls serverId until its status leaves processing or ctx ends.
// An empty server id disables polling. Latches carry over between calls
// for the same server id.
func (c *Coordinator) Watch(ctx context.Context, serverId string) error {
	if serverId == "" {
		return nil
	}
	if c.latch.ServerId() != serverId {
		c.latch.Reset(serverId)
		c.last = nil
		c.failures = 0
	} else if c.last != nil && c.last.ProcessingStatus != models.StatusProcessing {
		// Re-arm after a settled watch; the caller expects new work
		c.last = nil
	}

	entry := logger.WithSession(serverId)

	for {
		state, err := c.fetcher.GetState(ctx, serverId)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, client.ErrNetwork) && !errors.Is(err, client.ErrRateLimited) {
				return err
			}
			c.failures++
			entry.WithError(err).WithField("failures", c.failures).Debug("Session fetch failed")
			if c.failures >= networkErrorThreshold {
				c.dispatch(Event{Kind: EventNetworkError, ServerId: serverId, Err: err})
			}
		} else {
			c.failures = 0
			c.last = state
			for _, event := range c.latch.Observe(state) {
				c.dispatch(event)
			}
			entry.WithFields(logrus.Fields{
				"step":   state.Step,
				"status": state.ProcessingStatus,
			}).Debug("Session fetched")
		}

		if !c.ShouldContinue() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(c.interval):
		}
	}
}

func (c *Coordinator) dispatch(e Event) {
	h := c.handlers
	switch e.Kind {
	case EventToolsReady:
		if h.OnToolsReady != nil {
			h.OnToolsReady(e.Session)
		}
	case EventEnvVarsReady:
		if h.OnEnvVarsReady != nil {
			h.OnEnvVarsReady(e.Session)
		}
	case EventError:
		if h.OnError != nil {
			h.OnError(e.Message)
		}
	case EventComplete:
		if h.OnComplete != nil {
			h.OnComplete(e.Step)
		}
	case EventNetworkError:
		if h.OnNetworkError != nil {
			h.OnNetworkError(e.Err)
		}
	}
}
