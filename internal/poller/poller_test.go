package poller

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/imyashkale/mcpwizard/internal/client"
	"github.com/imyashkale/mcpwizard/internal/models"
	"github.com/imyashkale/mcpwizard/internal/wizard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock fires immediately and records every wait
type fakeClock struct {
	waits []time.Duration
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

// scriptedFetcher returns the scripted responses in order, repeating the last one
type scriptedFetcher struct {
	steps []fetchResult
	calls int
}

type fetchResult struct {
	state *models.WizardSessionResponse
	err   error
}

func (f *scriptedFetcher) GetState(ctx context.Context, serverId string) (*models.WizardSessionResponse, error) {
	i := f.calls
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	f.calls++
	r := f.steps[i]
	return r.state, r.err
}

func state(step models.Step, status models.ProcessingStatus, msg string) fetchResult {
	return fetchResult{state: &models.WizardSessionResponse{
		ServerId:         "srv-1",
		Step:             step,
		ProcessingStatus: status,
		ProcessingError:  msg,
	}}
}

func networkFailure() fetchResult {
	return fetchResult{err: fmt.Errorf("%w: connection refused", client.ErrNetwork)}
}

// recorder collects notifications in order
type recorder struct {
	events []string
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnToolsReady:   func(*models.WizardSessionResponse) { r.events = append(r.events, "tools_ready") },
		OnEnvVarsReady: func(*models.WizardSessionResponse) { r.events = append(r.events, "env_vars_ready") },
		OnError:        func(msg string) { r.events = append(r.events, "error:"+msg) },
		OnComplete:     func(step models.Step) { r.events = append(r.events, "complete:"+string(step)) },
		OnNetworkError: func(error) { r.events = append(r.events, "network_error") },
	}
}

func TestWatch_StopsWhenIdle(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []fetchResult{
		state(models.StepTools, models.StatusProcessing, ""),
		state(models.StepTools, models.StatusProcessing, ""),
		state(models.StepTools, models.StatusIdle, ""),
	}}
	clock := &fakeClock{}
	rec := &recorder{}

	c := New(fetcher, rec.handlers(), WithClock(clock))
	require.NoError(t, c.Watch(context.Background(), "srv-1"))

	assert.Equal(t, 3, fetcher.calls)
	assert.Equal(t, []time.Duration{DefaultInterval, DefaultInterval}, clock.waits)
	assert.Equal(t, []string{"tools_ready", "complete:tools"}, rec.events)
	assert.False(t, c.ShouldContinue())
}

func TestWatch_DisabledWithoutServerID(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []fetchResult{state(models.StepTools, models.StatusIdle, "")}}

	require.NoError(t, New(fetcher, Handlers{}).Watch(context.Background(), ""))
	assert.Equal(t, 0, fetcher.calls)
}

func TestWatch_FailOpenBeforeFirstFetch(t *testing.T) {
	c := New(&scriptedFetcher{}, Handlers{})
	assert.True(t, c.ShouldContinue())
	assert.Nil(t, c.Last())
}

func TestWatch_NetworkErrorsSurfaceOnSecondFailure(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []fetchResult{
		networkFailure(),
		state(models.StepTools, models.StatusProcessing, ""),
		networkFailure(),
		networkFailure(),
		networkFailure(),
		state(models.StepTools, models.StatusIdle, ""),
	}}
	rec := &recorder{}

	c := New(fetcher, rec.handlers(), WithClock(&fakeClock{}))
	require.NoError(t, c.Watch(context.Background(), "srv-1"))

	assert.Equal(t, 6, fetcher.calls)
	assert.Equal(t, []string{"network_error", "network_error", "tools_ready", "complete:tools"}, rec.events)
}

func TestWatch_StopsOnAPIError(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []fetchResult{{err: fmt.Errorf("lookup: %w", wizard.ErrNotFound)}}}

	err := New(fetcher, Handlers{}, WithClock(&fakeClock{})).Watch(context.Background(), "srv-1")
	assert.ErrorIs(t, err, wizard.ErrNotFound)
	assert.Equal(t, 1, fetcher.calls)
}

func TestWatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &scriptedFetcher{steps: []fetchResult{state(models.StepTools, models.StatusProcessing, "")}}
	clock := &blockingClock{}

	done := make(chan error, 1)
	go func() {
		done <- New(fetcher, Handlers{}, WithClock(clock)).Watch(ctx, "srv-1")
	}()

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("watch did not stop after cancellation")
	}
}

// blockingClock never fires
type blockingClock struct{}

func (blockingClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

func TestWatch_FailureThenRetry(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []fetchResult{
		state(models.StepTools, models.StatusProcessing, ""),
		state(models.StepTools, models.StatusFailed, "rate limited"),
	}}
	rec := &recorder{}
	c := New(fetcher, rec.handlers(), WithClock(&fakeClock{}))

	require.NoError(t, c.Watch(context.Background(), "srv-1"))
	assert.Equal(t, []string{"error:rate limited", "complete:tools"}, rec.events)

	// After a retry the same session is watched again
	fetcher.steps = append(fetcher.steps,
		state(models.StepTools, models.StatusProcessing, ""),
		state(models.StepTools, models.StatusIdle, ""),
	)
	fetcher.calls = 2
	require.NoError(t, c.Watch(context.Background(), "srv-1"))
	assert.Equal(t, []string{"error:rate limited", "complete:tools", "tools_ready"}, rec.events)
}

func TestLatch(t *testing.T) {
	l := NewLatch("srv-1")
	obs := func(step models.Step, status models.ProcessingStatus, msg string) []EventKind {
		var kinds []EventKind
		for _, e := range l.Observe(state(step, status, msg).state) {
			kinds = append(kinds, e.Kind)
		}
		return kinds
	}

	assert.Empty(t, obs(models.StepTools, models.StatusProcessing, ""))
	assert.Equal(t, []EventKind{EventToolsReady, EventComplete}, obs(models.StepTools, models.StatusIdle, ""))
	assert.Empty(t, obs(models.StepTools, models.StatusIdle, ""))

	assert.Empty(t, obs(models.StepEnvVars, models.StatusProcessing, ""))
	assert.Equal(t, []EventKind{EventError, EventComplete}, obs(models.StepEnvVars, models.StatusFailed, "rate limited"))
	assert.Empty(t, obs(models.StepEnvVars, models.StatusFailed, "rate limited"))
	assert.Equal(t, []EventKind{EventError}, obs(models.StepEnvVars, models.StatusFailed, "generation timed out"))
	assert.Equal(t, []EventKind{EventEnvVarsReady}, obs(models.StepEnvVars, models.StatusIdle, ""))
	assert.Equal(t, []EventKind{EventComplete}, obs(models.StepDeploy, models.StatusIdle, ""))

	// A different session starts from scratch
	other := &models.WizardSessionResponse{ServerId: "srv-2", Step: models.StepTools, ProcessingStatus: models.StatusIdle}
	events := l.Observe(other)
	require.Len(t, events, 2)
	assert.Equal(t, "srv-2", events[0].ServerId)
	assert.Equal(t, "srv-2", l.ServerId())
}
