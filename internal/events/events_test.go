package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/imyashkale/mcpwizard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "wizard.sessions.srv-1.settled", Subject("srv-1"))
}

func TestNewTaskSettled(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	session := &models.WizardSession{
		ServerId:         "srv-1",
		OrganizationId:   "org-1",
		Step:             models.StepTools,
		ProcessingStatus: models.StatusFailed,
		ProcessingError:  "rate limited",
		UpdatedAt:        now,
	}

	event := NewTaskSettled(session, "task-1", models.KindSuggestTools)

	data, err := encode(event)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "srv-1", decoded["server_id"])
	assert.Equal(t, "failed", decoded["processing_status"])
	assert.Equal(t, "rate limited", decoded["processing_error"])
	assert.Equal(t, "suggest_tools", decoded["kind"])
}

func TestMemoryPublisher(t *testing.T) {
	p := NewMemoryPublisher()
	ctx := context.Background()

	require.NoError(t, p.PublishSettled(ctx, TaskSettled{ServerId: "a"}))
	require.NoError(t, p.PublishSettled(ctx, TaskSettled{ServerId: "b"}))
	require.Len(t, p.Events(), 2)

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.PublishSettled(ctx, TaskSettled{ServerId: "c"}), ErrClosed)
	assert.Len(t, p.Events(), 2)
}

func TestNopPublisher(t *testing.T) {
	p := NewNopPublisher()
	assert.NoError(t, p.PublishSettled(context.Background(), TaskSettled{ServerId: "a"}))
	assert.NoError(t, p.Close())
}
