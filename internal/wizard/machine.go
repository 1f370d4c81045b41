package wizard

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/imyashkale/mcpwizard/internal/models"
)

// Payload carries the user decision applied by a transition.
// Only the field matching the transition is read.
type Payload struct {
	SelectedToolIds []string
	EnvValues       map[string]string
	Activation      *Activation
}

// Activation is the outcome of deploying a server, applied on deploy -> complete
type Activation struct {
	ServerURL   string
	BearerToken string
	Deployment  *models.DeploymentInfo
}

// Machine applies wizard transitions to sessions. It never persists anything:
// every method returns a new candidate session that the caller writes with a
// conditional update.
type Machine struct {
	newID func() string
	now   func() time.Time
}

// NewMachine creates a state machine using random task ids and the wall clock
func NewMachine() *Machine {
	return &Machine{
		newID: func() string { return uuid.New().String() },
		now:   time.Now,
	}
}

// Advance moves session to target, which must be the immediate successor of its step.
// The returned task is non-nil when the new step needs generation.
func (m *Machine) Advance(session *models.WizardSession, target models.Step, payload Payload) (*models.WizardSession, *models.Task, error) {
	if session.ProcessingStatus != models.StatusIdle {
		return nil, nil, fmt.Errorf("%w: cannot leave step %s while status is %s", ErrPreconditionFailed, session.Step, session.ProcessingStatus)
	}

	transition, ok := Successor(session.Step)
	if !ok || transition.To != target {
		return nil, nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, session.Step, target)
	}

	next := session.Clone()
	if err := m.applyPayload(next, transition, payload); err != nil {
		return nil, nil, err
	}
	next.Step = transition.To
	next.UpdatedAt = m.now()

	var task *models.Task
	if transition.RequiresGeneration {
		task = m.beginTask(next, transition.Kind, "", nil)
	}

	// Follow automatic hops (auth) while nothing is outstanding
	for next.ProcessingStatus == models.StatusIdle {
		auto, ok := Successor(next.Step)
		if !ok || !auto.Auto {
			break
		}
		next.Step = auto.To
	}

	return next, task, nil
}

// Refine discards the current step's generation output and schedules a new
// generation seeded with feedback. The step does not change.
func (m *Machine) Refine(session *models.WizardSession, feedback string, toolIds []string) (*models.WizardSession, *models.Task, error) {
	if session.ProcessingStatus != models.StatusIdle {
		return nil, nil, fmt.Errorf("%w: cannot refine while status is %s", ErrPreconditionFailed, session.ProcessingStatus)
	}

	kind, ok := RefinementKind(session.Step)
	if !ok {
		return nil, nil, fmt.Errorf("%w: step %s has nothing to refine", ErrPreconditionFailed, session.Step)
	}

	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return nil, nil, fmt.Errorf("%w: feedback is required", ErrValidation)
	}

	if len(toolIds) > 0 {
		if kind != models.KindSuggestTools {
			return nil, nil, fmt.Errorf("%w: tool ids can only be given when refining tools", ErrValidation)
		}
		known := session.ToolIdSet()
		for _, id := range toolIds {
			if !known[id] {
				return nil, nil, fmt.Errorf("%w: unknown tool id %q", ErrValidation, id)
			}
		}
	}

	next := session.Clone()
	next.UpdatedAt = m.now()
	task := m.beginTask(next, kind, feedback, toolIds)
	return next, task, nil
}

// StartCodeGeneration schedules generation of the deployable artifact at the deploy step
func (m *Machine) StartCodeGeneration(session *models.WizardSession) (*models.WizardSession, *models.Task, error) {
	if session.Step != models.StepDeploy {
		return nil, nil, fmt.Errorf("%w: code is generated at step %s, session is at %s", ErrPreconditionFailed, models.StepDeploy, session.Step)
	}
	if session.ProcessingStatus != models.StatusIdle {
		return nil, nil, fmt.Errorf("%w: cannot generate code while status is %s", ErrPreconditionFailed, session.ProcessingStatus)
	}

	next := session.Clone()
	next.UpdatedAt = m.now()
	task := m.beginTask(next, models.KindGenerateCode, "", nil)
	return next, task, nil
}

// Retry re-arms the last failed task with the same id, kind and input
func (m *Machine) Retry(session *models.WizardSession) (*models.WizardSession, *models.Task, error) {
	if session.ProcessingStatus != models.StatusFailed {
		return nil, nil, fmt.Errorf("%w: only failed sessions can be retried, status is %s", ErrPreconditionFailed, session.ProcessingStatus)
	}
	if session.Task == nil {
		return nil, nil, fmt.Errorf("%w: no task to retry", ErrPreconditionFailed)
	}

	next := session.Clone()
	next.ProcessingStatus = models.StatusProcessing
	next.ProcessingError = ""
	next.UpdatedAt = m.now()
	next.Task.EnqueuedAt = next.UpdatedAt
	return next, next.Task, nil
}

// Expired reports whether session has been processing its task for longer
// than maxAge. Such a task has no executor left: it was lost in a queue that
// did not survive a restart. A zero maxAge or an unknown enqueue time never expires.
func (m *Machine) Expired(session *models.WizardSession, maxAge time.Duration) bool {
	if maxAge <= 0 || session.ProcessingStatus != models.StatusProcessing || session.Task == nil {
		return false
	}
	if session.Task.EnqueuedAt.IsZero() {
		return false
	}
	return m.now().Sub(session.Task.EnqueuedAt) > maxAge
}

// ApplyResult stores a successful task result and returns the session to idle
// in the same candidate state.
func (m *Machine) ApplyResult(session *models.WizardSession, taskId string, result models.TaskResult) (*models.WizardSession, error) {
	if err := checkOutstanding(session, taskId); err != nil {
		return nil, err
	}

	next := session.Clone()
	switch session.Task.Kind {
	case models.KindSuggestTools:
		next.Tools = result.Tools
	case models.KindSuggestEnvVars:
		next.EnvVars = result.EnvVars
	case models.KindGenerateCode:
		next.GeneratedCode = result.GeneratedCode
	default:
		return nil, fmt.Errorf("unknown task kind %q", session.Task.Kind)
	}
	next.ProcessingStatus = models.StatusIdle
	next.ProcessingError = ""
	next.UpdatedAt = m.now()
	return next, nil
}

// ApplyFailure records a failed task. Outputs are left as they were when the task started.
func (m *Machine) ApplyFailure(session *models.WizardSession, taskId, reason string) (*models.WizardSession, error) {
	if err := checkOutstanding(session, taskId); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = ErrGenerationFailure.Error()
	}

	next := session.Clone()
	next.ProcessingStatus = models.StatusFailed
	next.ProcessingError = reason
	next.UpdatedAt = m.now()
	return next, nil
}

func checkOutstanding(session *models.WizardSession, taskId string) error {
	if session.ProcessingStatus != models.StatusProcessing || session.Task == nil || session.Task.Id != taskId {
		return fmt.Errorf("%w: task %s is not outstanding for session %s", ErrStaleTask, taskId, session.ServerId)
	}
	return nil
}

// beginTask puts next into processing for kind, discarding the output the task will replace
func (m *Machine) beginTask(next *models.WizardSession, kind models.TaskKind, feedback string, toolIds []string) *models.Task {
	switch kind {
	case models.KindSuggestTools:
		next.Tools = nil
	case models.KindSuggestEnvVars:
		next.EnvVars = nil
	case models.KindGenerateCode:
		next.GeneratedCode = nil
	}

	task := &models.Task{
		Id:         m.newID(),
		Kind:       kind,
		Input:      buildInput(next, kind, feedback, toolIds),
		EnqueuedAt: m.now(),
	}
	next.Task = task
	next.ProcessingStatus = models.StatusProcessing
	next.ProcessingError = ""
	return task
}

// buildInput snapshots what a generation task needs. Env var values never leave the session.
func buildInput(s *models.WizardSession, kind models.TaskKind, feedback string, toolIds []string) models.TaskInput {
	input := models.TaskInput{
		Description:      s.Description,
		TechnicalDetails: s.TechnicalDetails,
		Feedback:         feedback,
	}
	if len(toolIds) > 0 {
		input.ToolIds = append([]string(nil), toolIds...)
	}
	if kind == models.KindSuggestEnvVars || kind == models.KindGenerateCode {
		input.SelectedTools = s.SelectedTools()
	}
	if kind == models.KindGenerateCode {
		input.EnvVars = make([]models.EnvVar, len(s.EnvVars))
		for i, v := range s.EnvVars {
			v.Value = ""
			input.EnvVars[i] = v
		}
	}
	return input
}

func (m *Machine) applyPayload(next *models.WizardSession, t Transition, payload Payload) error {
	switch {
	case t.From == models.StepTools && t.To == models.StepEnvVars:
		return applySelection(next, payload.SelectedToolIds)
	case t.From == models.StepEnvVars && t.To == models.StepAuth:
		return applyEnvValues(next, payload.EnvValues)
	case t.From == models.StepDeploy && t.To == models.StepComplete:
		if payload.Activation == nil {
			return fmt.Errorf("%w: activation details are required to complete", ErrValidation)
		}
		next.ServerURL = payload.Activation.ServerURL
		next.BearerToken = payload.Activation.BearerToken
		next.Deployment = payload.Activation.Deployment
	}
	return nil
}

func applySelection(next *models.WizardSession, ids []string) error {
	if len(next.SelectedToolIds) > 0 {
		return fmt.Errorf("%w: tools have already been selected", ErrPreconditionFailed)
	}
	if len(ids) == 0 {
		return fmt.Errorf("%w: select at least one tool", ErrValidation)
	}

	known := next.ToolIdSet()
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !known[id] {
			return fmt.Errorf("%w: unknown tool id %q", ErrValidation, id)
		}
		if seen[id] {
			return fmt.Errorf("%w: tool id %q selected twice", ErrValidation, id)
		}
		seen[id] = true
	}

	next.SelectedToolIds = append([]string(nil), ids...)
	return nil
}

func applyEnvValues(next *models.WizardSession, values map[string]string) error {
	known := make(map[string]bool, len(next.EnvVars))
	for _, v := range next.EnvVars {
		known[v.Id] = true
	}
	for id := range values {
		if !known[id] {
			return fmt.Errorf("%w: unknown env var id %q", ErrValidation, id)
		}
	}

	for i, v := range next.EnvVars {
		value, ok := values[v.Id]
		if !ok {
			return fmt.Errorf("%w: missing value for env var %q", ErrValidation, v.Name)
		}
		next.EnvVars[i].Value = value
	}
	return nil
}
