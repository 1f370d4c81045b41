// Package tracker keeps the local registry in step with what the poller sees.
package tracker

import (
	"context"

	"github.com/imyashkale/mcpwizard/internal/logger"
	"github.com/imyashkale/mcpwizard/internal/models"
	"github.com/imyashkale/mcpwizard/internal/poller"
	"github.com/imyashkale/mcpwizard/internal/registry"
	"github.com/sirupsen/logrus"
)

// Tracker records started runs and forgets them once they settle.
// Registry failures are logged and never returned.
type Tracker struct {
	registry *registry.Registry
	scope    string
}

// New creates a tracker for the runs of one organization
func New(reg *registry.Registry, scope string) *Tracker {
	return &Tracker{registry: reg, scope: scope}
}

// Started records a run that is now generating in the background
func (t *Tracker) Started(ctx context.Context, serverId, description string) {
	if err := t.registry.Add(ctx, t.scope, serverId, description); err != nil {
		logger.WithFields(logrus.Fields{
			"server_id": serverId,
			"scope":     t.scope,
			"error":     err.Error(),
		}).Warn("Failed to record wizard run")
	}
}

// Pending lists the runs that can be resumed. An unreadable registry yields none.
func (t *Tracker) Pending(ctx context.Context) []registry.Entry {
	entries, err := t.registry.List(ctx, t.scope)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"scope": t.scope,
			"error": err.Error(),
		}).Warn("Failed to read wizard runs")
		return []registry.Entry{}
	}
	return entries
}

// Handlers wraps next so a settled run is removed before next.OnComplete runs.
// Completion at step_zero means nothing was generated and keeps the entry.
func (t *Tracker) Handlers(ctx context.Context, serverId string, next poller.Handlers) poller.Handlers {
	wrapped := next
	wrapped.OnComplete = func(step models.Step) {
		if step != models.StepZero {
			t.Forget(ctx, serverId)
		}
		if next.OnComplete != nil {
			next.OnComplete(step)
		}
	}
	return wrapped
}

// Forget drops a run, e.g. one the server no longer knows
func (t *Tracker) Forget(ctx context.Context, serverId string) {
	if err := t.registry.Remove(ctx, t.scope, serverId); err != nil {
		logger.WithFields(logrus.Fields{
			"server_id": serverId,
			"scope":     t.scope,
			"error":     err.Error(),
		}).Warn("Failed to remove wizard run")
	}
}
