package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/imyashkale/mcpwizard/internal/billing"
	"github.com/imyashkale/mcpwizard/internal/config"
	"github.com/imyashkale/mcpwizard/internal/logger"
	"github.com/imyashkale/mcpwizard/internal/metrics"
	"github.com/imyashkale/mcpwizard/internal/models"
	"github.com/imyashkale/mcpwizard/internal/queue"
	"github.com/imyashkale/mcpwizard/internal/repository"
)

// ScheduleFailedReason is recorded when a task could not be handed to the runner
const ScheduleFailedReason = "could not schedule generation"

// codePollInterval is how often GenerateCode re-reads the session while waiting
const codePollInterval = 250 * time.Millisecond

// Scheduler hands generation jobs to the background runner
type Scheduler interface {
	Enqueue(ctx context.Context, job *queue.GenerationJob) error
}

// Deployer provisions a completed server
type Deployer interface {
	Deploy(ctx context.Context, session *models.WizardSession) (*models.DeploymentInfo, error)
}

// TokenIssuer signs the bearer token a client uses to call its server
type TokenIssuer interface {
	Issue(serverId, organizationId string) (string, error)
}

// Dependencies are the collaborators of Service
type Dependencies struct {
	Sessions  repository.SessionRepository
	Machine   *Machine
	Scheduler Scheduler
	Plans     *config.Plans
	Billing   billing.Gate
	Deployer  Deployer
	Tokens    TokenIssuer
	ServerURL func(serverId string) string
	CodeWait  time.Duration
	// TaskExpiry fails a processing task read after this long. Zero disables it.
	TaskExpiry time.Duration
}

// Service implements the wizard operations on top of the session store.
// Every mutation is a single conditional write; a lost race surfaces as ErrPreconditionFailed.
type Service struct {
	sessions  repository.SessionRepository
	machine   *Machine
	scheduler Scheduler
	plans     *config.Plans
	billing   billing.Gate
	deployer  Deployer
	tokens    TokenIssuer
	serverURL func(serverId string) string
	codeWait  time.Duration
	expiry    time.Duration
	newID     func() string
}

// NewService creates a wizard service
func NewService(deps Dependencies) *Service {
	if deps.Machine == nil {
		deps.Machine = NewMachine()
	}
	if deps.Plans == nil {
		deps.Plans = config.NewPlans(3)
	}
	return &Service{
		sessions:  deps.Sessions,
		machine:   deps.Machine,
		scheduler: deps.Scheduler,
		plans:     deps.Plans,
		billing:   deps.Billing,
		deployer:  deps.Deployer,
		tokens:    deps.Tokens,
		serverURL: deps.ServerURL,
		codeWait:  deps.CodeWait,
		expiry:    deps.TaskExpiry,
		newID:     func() string { return uuid.New().String() },
	}
}

// Start creates a session and schedules the first tool suggestions
func (s *Service) Start(ctx context.Context, caller models.Caller, description, technicalDetails string) (*models.WizardSession, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, fmt.Errorf("%w: description is required", ErrValidation)
	}

	now := s.machine.now()
	draft := &models.WizardSession{
		ServerId:         s.newID(),
		OrganizationId:   caller.OrganizationId,
		UserId:           caller.UserId,
		Step:             models.StepDescribe,
		ProcessingStatus: models.StatusIdle,
		Description:      description,
		TechnicalDetails: strings.TrimSpace(technicalDetails),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	session, task, err := s.machine.Advance(draft, models.StepTools, Payload{})
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		logger.WithSession(session.ServerId).WithError(err).Error("Failed to create wizard session")
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	metrics.Transition(string(models.StepDescribe), string(session.Step))

	logger.WithFields(map[string]interface{}{
		"server_id":       session.ServerId,
		"organization_id": session.OrganizationId,
		"user_id":         session.UserId,
	}).Info("Wizard session started")

	return s.schedule(ctx, session, task), nil
}

// GetState returns the caller's session
func (s *Service) GetState(ctx context.Context, caller models.Caller, serverId string) (*models.WizardSession, error) {
	return s.load(ctx, caller, serverId)
}

// List returns the caller organization's sessions, newest first
func (s *Service) List(ctx context.Context, caller models.Caller) ([]*models.WizardSession, error) {
	sessions, err := s.sessions.ListByOrganization(ctx, caller.OrganizationId)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	for i, session := range sessions {
		sessions[i] = s.expire(ctx, session)
	}
	return sessions, nil
}

// SubmitTools records the tool selection and schedules env var suggestions
func (s *Service) SubmitTools(ctx context.Context, caller models.Caller, serverId string, selectedToolIds []string) (*models.WizardSession, error) {
	if max := s.plans.MaxTools(caller.Plan); len(selectedToolIds) > max {
		return nil, fmt.Errorf("%w: your plan allows selecting at most %d tools", ErrValidation, max)
	}

	return s.mutate(ctx, caller, serverId, func(current *models.WizardSession) (*models.WizardSession, *models.Task, error) {
		return s.machine.Advance(current, models.StepEnvVars, Payload{SelectedToolIds: selectedToolIds})
	})
}

// RefineTools regenerates tool suggestions from feedback
func (s *Service) RefineTools(ctx context.Context, caller models.Caller, serverId, feedback string, toolIds []string) (*models.WizardSession, error) {
	return s.refine(ctx, caller, serverId, models.StepTools, feedback, toolIds)
}

// SubmitEnvVars records env var values and moves past the auto-satisfied auth step
func (s *Service) SubmitEnvVars(ctx context.Context, caller models.Caller, serverId string, values map[string]string) (*models.WizardSession, error) {
	return s.mutate(ctx, caller, serverId, func(current *models.WizardSession) (*models.WizardSession, *models.Task, error) {
		return s.machine.Advance(current, models.StepAuth, Payload{EnvValues: values})
	})
}

// RefineEnvVars regenerates env var suggestions from feedback
func (s *Service) RefineEnvVars(ctx context.Context, caller models.Caller, serverId, feedback string) (*models.WizardSession, error) {
	return s.refine(ctx, caller, serverId, models.StepEnvVars, feedback, nil)
}

// GenerateCode produces the deployable artifact. It returns as soon as the
// artifact exists, or after the code wait with the session still processing.
func (s *Service) GenerateCode(ctx context.Context, caller models.Caller, serverId string) (*models.WizardSession, error) {
	current, err := s.load(ctx, caller, serverId)
	if err != nil {
		return nil, err
	}

	switch {
	case current.Step == models.StepDeploy && current.ProcessingStatus == models.StatusIdle && current.GeneratedCode != nil:
		return current, nil
	case current.Step == models.StepDeploy && current.ProcessingStatus == models.StatusProcessing &&
		current.Task != nil && current.Task.Kind == models.KindGenerateCode:
		// Already running; wait on the same task
	default:
		current, err = s.mutate(ctx, caller, serverId, func(c *models.WizardSession) (*models.WizardSession, *models.Task, error) {
			return s.machine.StartCodeGeneration(c)
		})
		if err != nil {
			return nil, err
		}
	}

	return s.awaitCode(ctx, caller, current)
}

// Activate deploys the server, issues its bearer token and completes the wizard
func (s *Service) Activate(ctx context.Context, caller models.Caller, serverId string) (*models.WizardSession, error) {
	current, err := s.load(ctx, caller, serverId)
	if err != nil {
		return nil, err
	}

	if current.Step != models.StepDeploy {
		return nil, fmt.Errorf("%w: servers are activated at step %s, session is at %s", ErrPreconditionFailed, models.StepDeploy, current.Step)
	}
	if current.ProcessingStatus != models.StatusIdle {
		return nil, fmt.Errorf("%w: cannot activate while status is %s", ErrPreconditionFailed, current.ProcessingStatus)
	}
	if current.GeneratedCode == nil {
		return nil, fmt.Errorf("%w: generate code before activating", ErrPreconditionFailed)
	}

	entry := logger.WithSession(serverId).WithField("organization_id", caller.OrganizationId)

	if s.billing != nil {
		if err := s.billing.Check(ctx, caller); err != nil {
			if errors.Is(err, billing.ErrInsufficientCredits) {
				return nil, fmt.Errorf("%w: %v", ErrPaymentRequired, err)
			}
			return nil, fmt.Errorf("billing check failed: %w", err)
		}
	}

	deployment, err := s.deployer.Deploy(ctx, current)
	if err != nil {
		entry.WithError(err).Error("Failed to deploy server")
		return nil, fmt.Errorf("failed to deploy server: %w", err)
	}

	token, err := s.tokens.Issue(serverId, current.OrganizationId)
	if err != nil {
		entry.WithError(err).Error("Failed to issue server token")
		return nil, fmt.Errorf("failed to issue server token: %w", err)
	}

	activation := &Activation{
		ServerURL:   s.serverURL(serverId),
		BearerToken: token,
		Deployment:  deployment,
	}
	next, _, err := s.machine.Advance(current, models.StepComplete, Payload{Activation: activation})
	if err != nil {
		return nil, err
	}
	if err := s.write(ctx, current, next); err != nil {
		return nil, err
	}

	if s.billing != nil {
		if err := s.billing.Charge(ctx, caller, serverId); err != nil {
			entry.WithError(err).Error("Failed to charge activation")
		}
	}

	entry.WithField("server_url", next.ServerURL).Info("Server activated")
	return next, nil
}

// Retry re-runs the last failed task with its original input
func (s *Service) Retry(ctx context.Context, caller models.Caller, serverId string) (*models.WizardSession, error) {
	return s.mutate(ctx, caller, serverId, func(current *models.WizardSession) (*models.WizardSession, *models.Task, error) {
		return s.machine.Retry(current)
	})
}

func (s *Service) refine(ctx context.Context, caller models.Caller, serverId string, step models.Step, feedback string, toolIds []string) (*models.WizardSession, error) {
	return s.mutate(ctx, caller, serverId, func(current *models.WizardSession) (*models.WizardSession, *models.Task, error) {
		if current.Step != step {
			return nil, nil, fmt.Errorf("%w: refinement is only possible at step %s, session is at %s", ErrPreconditionFailed, step, current.Step)
		}
		return s.machine.Refine(current, feedback, toolIds)
	})
}

// load reads a session, hiding sessions of other organizations
func (s *Service) load(ctx context.Context, caller models.Caller, serverId string) (*models.WizardSession, error) {
	session, err := s.sessions.Get(ctx, serverId)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, serverId)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.OrganizationId != caller.OrganizationId {
		logger.WithSession(serverId).WithField("organization_id", caller.OrganizationId).Warn("Cross-organization session access refused")
		return nil, fmt.Errorf("%w: %s", ErrNotFound, serverId)
	}
	return s.expire(ctx, session), nil
}

// expire fails a task that has been processing for longer than the runner
// could take, e.g. because its job was lost with a restart. Any error leaves
// the session as read; the next read tries again.
func (s *Service) expire(ctx context.Context, session *models.WizardSession) *models.WizardSession {
	if !s.machine.Expired(session, s.expiry) {
		return session
	}
	task := session.Task
	entry := logger.WithSession(session.ServerId).WithFields(map[string]interface{}{
		"task_id": task.Id,
		"kind":    task.Kind,
	})

	failed, err := s.machine.ApplyFailure(session, task.Id, TimedOutReason)
	if err != nil {
		return session
	}
	if err := s.sessions.Update(ctx, failed, session.Version); err != nil {
		if !errors.Is(err, repository.ErrVersionConflict) {
			entry.WithError(err).Error("Failed to expire task")
			return session
		}
		// Someone else settled it first
		if current, err := s.sessions.Get(ctx, session.ServerId); err == nil {
			return current
		}
		return session
	}

	metrics.TaskFinished(string(task.Kind), metrics.OutcomeTimedOut, s.machine.now().Sub(task.EnqueuedAt))
	entry.WithField("enqueued_at", task.EnqueuedAt).Warn("Expired task that never settled")
	return failed
}

// mutate loads the session, applies change, stores the result conditionally
// and schedules the task change started.
func (s *Service) mutate(ctx context.Context, caller models.Caller, serverId string, change func(*models.WizardSession) (*models.WizardSession, *models.Task, error)) (*models.WizardSession, error) {
	current, err := s.load(ctx, caller, serverId)
	if err != nil {
		return nil, err
	}

	next, task, err := change(current)
	if err != nil {
		return nil, err
	}

	if err := s.write(ctx, current, next); err != nil {
		return nil, err
	}

	if task == nil {
		return next, nil
	}
	return s.schedule(ctx, next, task), nil
}

// write stores next if nobody else wrote current's version in the meantime
func (s *Service) write(ctx context.Context, current, next *models.WizardSession) error {
	if err := s.sessions.Update(ctx, next, current.Version); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return fmt.Errorf("%w: session changed concurrently, refresh and try again", ErrPreconditionFailed)
		}
		return fmt.Errorf("failed to store session: %w", err)
	}

	metrics.Transition(string(current.Step), string(next.Step))
	logger.WithSession(next.ServerId).WithFields(map[string]interface{}{
		"from":    current.Step,
		"step":    next.Step,
		"status":  next.ProcessingStatus,
		"version": next.Version,
	}).Debug("Wizard session updated")
	return nil
}

// schedule hands task to the runner. When that fails the session is marked
// failed so the user can retry instead of waiting forever.
func (s *Service) schedule(ctx context.Context, session *models.WizardSession, task *models.Task) *models.WizardSession {
	job := &queue.GenerationJob{
		TaskID:         task.Id,
		ServerID:       session.ServerId,
		OrganizationID: session.OrganizationId,
		Kind:           task.Kind,
	}
	err := s.scheduler.Enqueue(ctx, job)
	if err == nil {
		return session
	}

	entry := logger.WithSession(session.ServerId).WithField("task_id", task.Id)
	entry.WithError(err).Error("Failed to schedule generation task")

	failed, applyErr := s.machine.ApplyFailure(session, task.Id, ScheduleFailedReason)
	if applyErr != nil {
		return session
	}
	if err := s.sessions.Update(context.WithoutCancel(ctx), failed, session.Version); err != nil {
		// The runner may already own the task; leave the session as it is
		entry.WithError(err).Warn("Could not record scheduling failure")
		return session
	}
	return failed
}

// awaitCode polls the session until code generation settles or the code wait elapses
func (s *Service) awaitCode(ctx context.Context, caller models.Caller, session *models.WizardSession) (*models.WizardSession, error) {
	deadline := time.NewTimer(s.codeWait)
	defer deadline.Stop()
	ticker := time.NewTicker(codePollInterval)
	defer ticker.Stop()

	for {
		switch session.ProcessingStatus {
		case models.StatusIdle:
			return session, nil
		case models.StatusFailed:
			return nil, fmt.Errorf("%w: %s", ErrGenerationFailure, session.ProcessingError)
		}

		select {
		case <-ctx.Done():
			return session, nil
		case <-deadline.C:
			return session, nil
		case <-ticker.C:
		}

		latest, err := s.load(ctx, caller, session.ServerId)
		if err != nil {
			return nil, err
		}
		session = latest
	}
}
