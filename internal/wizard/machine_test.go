package wizard

import (
	"fmt"
	"testing"
	"time"

	"github.com/imyashkale/mcpwizard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// testMachine returns a machine with sequential task ids and a frozen clock
func testMachine() *Machine {
	n := 0
	return &Machine{
		newID: func() string {
			n++
			return fmt.Sprintf("task-%d", n)
		},
		now: func() time.Time { return fixedNow },
	}
}

func describeSession() *models.WizardSession {
	return &models.WizardSession{
		ServerId:         "srv-1",
		OrganizationId:   "org-1",
		Step:             models.StepDescribe,
		ProcessingStatus: models.StatusIdle,
		Description:      "Wrap my CRM API",
		Version:          1,
	}
}

// idleAtTools returns a session at tools with two suggestions ready
func idleAtTools(t *testing.T, m *Machine) *models.WizardSession {
	t.Helper()
	s, task, err := m.Advance(describeSession(), models.StepTools, Payload{})
	require.NoError(t, err)
	s, err = m.ApplyResult(s, task.Id, models.TaskResult{Tools: []models.Tool{
		{Id: "tool_1", Name: "list_contacts"},
		{Id: "tool_2", Name: "create_deal"},
	}})
	require.NoError(t, err)
	return s
}

// idleAtEnvVars returns a session at env_vars with tool_1 selected and one env var suggested
func idleAtEnvVars(t *testing.T, m *Machine) *models.WizardSession {
	t.Helper()
	s, task, err := m.Advance(idleAtTools(t, m), models.StepEnvVars, Payload{SelectedToolIds: []string{"tool_1"}})
	require.NoError(t, err)
	s, err = m.ApplyResult(s, task.Id, models.TaskResult{EnvVars: []models.EnvVar{{Id: "env_1", Name: "CRM_API_KEY"}}})
	require.NoError(t, err)
	return s
}

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from, to models.Step
		want     bool
	}{
		{models.StepDescribe, models.StepTools, true},
		{models.StepTools, models.StepEnvVars, true},
		{models.StepEnvVars, models.StepAuth, true},
		{models.StepAuth, models.StepDeploy, true},
		{models.StepDeploy, models.StepComplete, true},
		{models.StepTools, models.StepDeploy, false},
		{models.StepEnvVars, models.StepTools, false},
		{models.StepComplete, models.StepDescribe, false},
		{models.StepZero, models.StepDescribe, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s to %s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidTransition(tt.from, tt.to))
		})
	}
}

func TestIsValidStep(t *testing.T) {
	for _, s := range AllSteps() {
		assert.True(t, IsValidStep(s))
	}
	assert.False(t, IsValidStep("review"))
}

func TestAdvance_StartsGeneration(t *testing.T) {
	m := testMachine()
	start := describeSession()

	next, task, err := m.Advance(start, models.StepTools, Payload{})
	require.NoError(t, err)
	require.NotNil(t, task)

	assert.Equal(t, models.StepTools, next.Step)
	assert.Equal(t, models.StatusProcessing, next.ProcessingStatus)
	assert.Equal(t, "task-1", task.Id)
	assert.Equal(t, models.KindSuggestTools, task.Kind)
	assert.Equal(t, "Wrap my CRM API", task.Input.Description)
	assert.Equal(t, task, next.Task)
	assert.Equal(t, fixedNow, next.UpdatedAt)

	// The input session is untouched
	assert.Equal(t, models.StepDescribe, start.Step)
	assert.Nil(t, start.Task)
}

func TestAdvance_Rejections(t *testing.T) {
	m := testMachine()

	t.Run("Skipping a step", func(t *testing.T) {
		_, _, err := m.Advance(idleAtTools(t, m), models.StepDeploy, Payload{})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("Going back", func(t *testing.T) {
		_, _, err := m.Advance(idleAtEnvVars(t, m), models.StepTools, Payload{})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("Leaving complete", func(t *testing.T) {
		s := describeSession()
		s.Step = models.StepComplete
		_, _, err := m.Advance(s, models.StepDeploy, Payload{})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("While processing", func(t *testing.T) {
		s, _, err := m.Advance(describeSession(), models.StepTools, Payload{})
		require.NoError(t, err)
		_, _, err = m.Advance(s, models.StepEnvVars, Payload{SelectedToolIds: []string{"tool_1"}})
		assert.ErrorIs(t, err, ErrPreconditionFailed)
	})

	t.Run("While failed", func(t *testing.T) {
		s, task, err := m.Advance(describeSession(), models.StepTools, Payload{})
		require.NoError(t, err)
		s, err = m.ApplyFailure(s, task.Id, "rate limited")
		require.NoError(t, err)
		_, _, err = m.Advance(s, models.StepEnvVars, Payload{SelectedToolIds: []string{"tool_1"}})
		assert.ErrorIs(t, err, ErrPreconditionFailed)
	})
}

func TestAdvance_ToolSelection(t *testing.T) {
	m := testMachine()

	tests := []struct {
		name    string
		ids     []string
		wantErr error
	}{
		{name: "Subset", ids: []string{"tool_2"}},
		{name: "All", ids: []string{"tool_1", "tool_2"}},
		{name: "Empty", ids: nil, wantErr: ErrValidation},
		{name: "Unknown", ids: []string{"tool_3"}, wantErr: ErrValidation},
		{name: "Duplicate", ids: []string{"tool_1", "tool_1"}, wantErr: ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := idleAtTools(t, m)
			next, task, err := m.Advance(at, models.StepEnvVars, Payload{SelectedToolIds: tt.ids})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, at.SelectedToolIds)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ids, next.SelectedToolIds)
			require.NotNil(t, task)
			assert.Equal(t, models.KindSuggestEnvVars, task.Kind)
			assert.Len(t, task.Input.SelectedTools, len(tt.ids))
		})
	}
}

func TestAdvance_EnvVarsHopsOverAuth(t *testing.T) {
	m := testMachine()
	at := idleAtEnvVars(t, m)

	next, task, err := m.Advance(at, models.StepAuth, Payload{EnvValues: map[string]string{"env_1": "secret"}})
	require.NoError(t, err)
	assert.Nil(t, task)
	assert.Equal(t, models.StepDeploy, next.Step)
	assert.Equal(t, models.StatusIdle, next.ProcessingStatus)
	assert.Equal(t, "secret", next.EnvVars[0].Value)
	assert.Empty(t, at.EnvVars[0].Value)
}

func TestAdvance_EnvValueValidation(t *testing.T) {
	m := testMachine()

	_, _, err := m.Advance(idleAtEnvVars(t, m), models.StepAuth, Payload{EnvValues: map[string]string{}})
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = m.Advance(idleAtEnvVars(t, m), models.StepAuth, Payload{EnvValues: map[string]string{"env_1": "", "env_9": "x"}})
	assert.ErrorIs(t, err, ErrValidation)

	// Empty values are allowed
	_, _, err = m.Advance(idleAtEnvVars(t, m), models.StepAuth, Payload{EnvValues: map[string]string{"env_1": ""}})
	assert.NoError(t, err)
}

func TestRefine(t *testing.T) {
	m := testMachine()
	at := idleAtTools(t, m)

	next, task, err := m.Refine(at, "  only read operations ", []string{"tool_1"})
	require.NoError(t, err)
	assert.Equal(t, models.StepTools, next.Step)
	assert.Equal(t, models.StatusProcessing, next.ProcessingStatus)
	assert.Empty(t, next.Tools)
	assert.Equal(t, models.KindSuggestTools, task.Kind)
	assert.Equal(t, "only read operations", task.Input.Feedback)
	assert.Equal(t, []string{"tool_1"}, task.Input.ToolIds)
	assert.Len(t, at.Tools, 2)

	_, _, err = m.Refine(next, "again", nil)
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	_, _, err = m.Refine(at, "  ", nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = m.Refine(at, "more", []string{"tool_7"})
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = m.Refine(idleAtEnvVars(t, m), "more", []string{"tool_1"})
	assert.ErrorIs(t, err, ErrValidation)

	deploy := idleAtEnvVars(t, m)
	deploy, _, err = m.Advance(deploy, models.StepAuth, Payload{EnvValues: map[string]string{"env_1": "x"}})
	require.NoError(t, err)
	_, _, err = m.Refine(deploy, "more", nil)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestStartCodeGeneration_ScrubsEnvValues(t *testing.T) {
	m := testMachine()
	s, _, err := m.Advance(idleAtEnvVars(t, m), models.StepAuth, Payload{EnvValues: map[string]string{"env_1": "secret"}})
	require.NoError(t, err)

	next, task, err := m.StartCodeGeneration(s)
	require.NoError(t, err)
	assert.Equal(t, models.KindGenerateCode, task.Kind)
	assert.Equal(t, models.StatusProcessing, next.ProcessingStatus)
	require.Len(t, task.Input.EnvVars, 1)
	assert.Equal(t, "CRM_API_KEY", task.Input.EnvVars[0].Name)
	assert.Empty(t, task.Input.EnvVars[0].Value)
	assert.Equal(t, "secret", next.EnvVars[0].Value)

	_, _, err = m.StartCodeGeneration(next)
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	_, _, err = m.StartCodeGeneration(idleAtTools(t, m))
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestRetry_ReplaysSameTask(t *testing.T) {
	m := testMachine()
	s, task, err := m.Advance(describeSession(), models.StepTools, Payload{})
	require.NoError(t, err)
	failed, err := m.ApplyFailure(s, task.Id, "rate limited")
	require.NoError(t, err)
	assert.Equal(t, "rate limited", failed.ProcessingError)

	retried, again, err := m.Retry(failed)
	require.NoError(t, err)
	assert.Equal(t, *task, *again)
	assert.Equal(t, models.StatusProcessing, retried.ProcessingStatus)
	assert.Empty(t, retried.ProcessingError)

	_, _, err = m.Retry(retried)
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	_, _, err = m.Retry(idleAtTools(t, m))
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestApplyResult_Stale(t *testing.T) {
	m := testMachine()
	s, task, err := m.Advance(describeSession(), models.StepTools, Payload{})
	require.NoError(t, err)

	_, err = m.ApplyResult(s, "other-task", models.TaskResult{Tools: []models.Tool{{Id: "x", Name: "x"}}})
	assert.ErrorIs(t, err, ErrStaleTask)

	done, err := m.ApplyResult(s, task.Id, models.TaskResult{Tools: []models.Tool{{Id: "x", Name: "x"}}})
	require.NoError(t, err)

	_, err = m.ApplyResult(done, task.Id, models.TaskResult{})
	assert.ErrorIs(t, err, ErrStaleTask)
	_, err = m.ApplyFailure(done, task.Id, "late")
	assert.ErrorIs(t, err, ErrStaleTask)
}

func TestApplyFailure_DefaultReasonKeepsOutputs(t *testing.T) {
	m := testMachine()
	at := idleAtEnvVars(t, m)
	s, task, err := m.Refine(at, "add a region variable", nil)
	require.NoError(t, err)

	failed, err := m.ApplyFailure(s, task.Id, "")
	require.NoError(t, err)
	assert.Equal(t, ErrGenerationFailure.Error(), failed.ProcessingError)
	assert.Equal(t, models.StepEnvVars, failed.Step)
	assert.Equal(t, []string{"tool_1"}, failed.SelectedToolIds)
}

func TestAdvance_Complete(t *testing.T) {
	m := testMachine()
	s, _, err := m.Advance(idleAtEnvVars(t, m), models.StepAuth, Payload{EnvValues: map[string]string{"env_1": "x"}})
	require.NoError(t, err)

	_, _, err = m.Advance(s, models.StepComplete, Payload{})
	assert.ErrorIs(t, err, ErrValidation)

	done, task, err := m.Advance(s, models.StepComplete, Payload{Activation: &Activation{
		ServerURL:   "https://srv-1.mcp.test/mcp",
		BearerToken: "token",
	}})
	require.NoError(t, err)
	assert.Nil(t, task)
	assert.Equal(t, models.StepComplete, done.Step)
	assert.Equal(t, "token", done.BearerToken)
}

func TestExpired(t *testing.T) {
	now := fixedNow
	m := testMachine()
	m.now = func() time.Time { return now }

	session, task, err := m.Advance(describeSession(), models.StepTools, Payload{})
	require.NoError(t, err)
	assert.Equal(t, fixedNow, task.EnqueuedAt)

	now = fixedNow.Add(10 * time.Minute)
	assert.False(t, m.Expired(session, 15*time.Minute))
	assert.False(t, m.Expired(session, 0))

	now = fixedNow.Add(16 * time.Minute)
	assert.True(t, m.Expired(session, 15*time.Minute))

	unknown := session.Clone()
	unknown.Task.EnqueuedAt = time.Time{}
	assert.False(t, m.Expired(unknown, 15*time.Minute))

	failed, err := m.ApplyFailure(session, task.Id, TimedOutReason)
	require.NoError(t, err)
	assert.False(t, m.Expired(failed, 15*time.Minute))

	// Retry restarts the clock
	retried, _, err := m.Retry(failed)
	require.NoError(t, err)
	assert.Equal(t, now, retried.Task.EnqueuedAt)
	assert.False(t, m.Expired(retried, 15*time.Minute))
}
