package tracker

import (
	"context"
	"errors"
	"testing"

	"github.com/imyashkale/mcpwizard/internal/models"
	"github.com/imyashkale/mcpwizard/internal/poller"
	"github.com/imyashkale/mcpwizard/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenStore struct{}

func (brokenStore) Load(context.Context, string) ([]registry.Entry, error) {
	return nil, errors.New("disk full")
}

func (brokenStore) Save(context.Context, string, []registry.Entry) error {
	return errors.New("disk full")
}

type idleFetcher struct {
	step models.Step
}

func (f idleFetcher) GetState(ctx context.Context, serverId string) (*models.WizardSessionResponse, error) {
	return &models.WizardSessionResponse{
		ServerId:         serverId,
		Step:             f.step,
		ProcessingStatus: models.StatusIdle,
	}, nil
}

func TestTracker_RemovesSettledRun(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(registry.NewMemoryStore())
	tr := New(reg, "org-1")

	tr.Started(ctx, "srv-1", "Wrap my CRM API")
	tr.Started(ctx, "srv-2", "Billing exports")
	require.Len(t, tr.Pending(ctx), 2)

	var completed []models.Step
	handlers := tr.Handlers(ctx, "srv-1", poller.Handlers{
		OnComplete: func(step models.Step) { completed = append(completed, step) },
	})

	require.NoError(t, poller.New(idleFetcher{step: models.StepTools}, handlers).Watch(ctx, "srv-1"))

	assert.Equal(t, []models.Step{models.StepTools}, completed)
	pending := tr.Pending(ctx)
	require.Len(t, pending, 1)
	assert.Equal(t, "srv-2", pending[0].ServerId)
}

func TestTracker_StepZeroKeepsRun(t *testing.T) {
	ctx := context.Background()
	tr := New(registry.New(registry.NewMemoryStore()), "org-1")
	tr.Started(ctx, "srv-1", "Wrap my CRM API")

	handlers := tr.Handlers(ctx, "srv-1", poller.Handlers{})
	handlers.OnComplete(models.StepZero)

	assert.Len(t, tr.Pending(ctx), 1)
}

func TestTracker_PreservesOtherHandlers(t *testing.T) {
	var ready bool
	tr := New(registry.New(registry.NewMemoryStore()), "org-1")

	handlers := tr.Handlers(context.Background(), "srv-1", poller.Handlers{
		OnToolsReady: func(*models.WizardSessionResponse) { ready = true },
	})
	handlers.OnToolsReady(nil)

	assert.True(t, ready)
	assert.NotPanics(t, func() { handlers.OnComplete(models.StepTools) })
}

func TestTracker_RegistryFailuresNeverBlock(t *testing.T) {
	ctx := context.Background()
	tr := New(registry.New(brokenStore{}), "org-1")

	assert.NotPanics(t, func() { tr.Started(ctx, "srv-1", "Wrap my CRM API") })
	assert.Empty(t, tr.Pending(ctx))

	var completed bool
	handlers := tr.Handlers(ctx, "srv-1", poller.Handlers{
		OnComplete: func(models.Step) { completed = true },
	})
	handlers.OnComplete(models.StepTools)
	assert.True(t, completed)
}
