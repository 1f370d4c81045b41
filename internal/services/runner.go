package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/imyashkale/mcpwizard/internal/events"
	"github.com/imyashkale/mcpwizard/internal/generator"
	"github.com/imyashkale/mcpwizard/internal/logger"
	"github.com/imyashkale/mcpwizard/internal/metrics"
	"github.com/imyashkale/mcpwizard/internal/models"
	"github.com/imyashkale/mcpwizard/internal/queue"
	"github.com/imyashkale/mcpwizard/internal/repository"
	"github.com/imyashkale/mcpwizard/internal/wizard"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// ErrTaskInFlight is returned for a second delivery of a task that is already executing
var ErrTaskInFlight = fmt.Errorf("%w: task is already executing", queue.ErrDuplicateJob)

// maxSettleAttempts bounds the compare-and-swap loop that stores a task outcome
const maxSettleAttempts = 5

// RunnerService executes background generation tasks and stores their outcome
type RunnerService struct {
	sessions  repository.SessionRepository
	generator generator.Generator
	machine   *wizard.Machine
	publisher events.Publisher
	timeout   time.Duration

	inFlight sync.Map // server id -> *flight
}

// flight is the task executing for one session. done closes once the
// session is released.
type flight struct {
	taskId string
	done   chan struct{}
}

// NewRunnerService creates a new runner
func NewRunnerService(
	sessions repository.SessionRepository,
	gen generator.Generator,
	machine *wizard.Machine,
	publisher events.Publisher,
	timeout time.Duration,
) *RunnerService {
	if publisher == nil {
		publisher = events.NewNopPublisher()
	}
	return &RunnerService{
		sessions:  sessions,
		generator: gen,
		machine:   machine,
		publisher: publisher,
		timeout:   timeout,
	}
}

// Execute runs one generation job to completion. Jobs whose task is no longer
// outstanding on the session are dropped without touching it.
func (rs *RunnerService) Execute(ctx context.Context, job *queue.GenerationJob) error {
	entry := logger.WithSession(job.ServerID).WithFields(logrus.Fields{
		"task_id": job.TaskID,
		"kind":    job.Kind,
	})

	release, err := rs.acquire(ctx, job, entry)
	if err != nil {
		return err
	}
	defer release()

	// Stage 1: load the task input recorded on the session
	session, err := rs.sessions.Get(ctx, job.ServerID)
	if err != nil {
		entry.WithError(err).Error("Failed to load session for generation job")
		return fmt.Errorf("failed to load session: %w", err)
	}
	if session.ProcessingStatus != models.StatusProcessing || session.Task == nil || session.Task.Id != job.TaskID {
		metrics.TaskDropped(string(job.Kind))
		entry.Info("Dropped generation job: task is no longer outstanding")
		return nil
	}
	task := *session.Task

	// Stage 2: generate under the task deadline
	metrics.TaskStarted(string(task.Kind))
	started := time.Now()
	entry.Info("Generation started")

	result, genErr := rs.generate(ctx, task)
	if genErr == nil {
		result, genErr = normalizeResult(task.Kind, result)
	}

	// Stage 3: store the outcome, even when shutdown cancelled generation
	ctx = context.WithoutCancel(ctx)
	outcome := metrics.OutcomeSucceeded
	var settled *models.WizardSession
	if genErr != nil {
		reason := failureReason(genErr)
		outcome = metrics.OutcomeFailed
		if reason == wizard.TimedOutReason {
			outcome = metrics.OutcomeTimedOut
		}
		entry.WithField("reason", reason).Warn("Generation failed")
		settled, err = rs.settle(ctx, job, func(s *models.WizardSession) (*models.WizardSession, error) {
			return rs.machine.ApplyFailure(s, task.Id, reason)
		})
	} else {
		settled, err = rs.settle(ctx, job, func(s *models.WizardSession) (*models.WizardSession, error) {
			return rs.machine.ApplyResult(s, task.Id, result)
		})
	}

	if errors.Is(err, wizard.ErrStaleTask) {
		metrics.TaskFinished(string(task.Kind), metrics.OutcomeStale, time.Since(started))
		entry.Info("Discarded generation outcome: task was superseded")
		return nil
	}
	if err != nil {
		metrics.TaskFinished(string(task.Kind), metrics.OutcomeFailed, time.Since(started))
		entry.WithError(err).Error("Failed to store generation outcome")
		return err
	}

	// The session is settled; the next task may start while the event goes out
	release()

	metrics.TaskFinished(string(task.Kind), outcome, time.Since(started))
	entry.WithFields(logrus.Fields{
		"status":  settled.ProcessingStatus,
		"elapsed": time.Since(started).String(),
	}).Info("Generation settled")

	if err := rs.publisher.PublishSettled(ctx, events.NewTaskSettled(settled, task.Id, task.Kind)); err != nil {
		entry.WithError(err).Warn("Failed to publish settled event")
	}
	return nil
}

// acquire claims the session for job. A second delivery of the running task is
// rejected. A job for a different task waits until the running one is released,
// since that task has been superseded and will only discard its outcome.
func (rs *RunnerService) acquire(ctx context.Context, job *queue.GenerationJob, entry *logrus.Entry) (func(), error) {
	mine := &flight{taskId: job.TaskID, done: make(chan struct{})}
	for {
		held, loaded := rs.inFlight.LoadOrStore(job.ServerID, mine)
		if !loaded {
			var once sync.Once
			return func() {
				once.Do(func() {
					rs.inFlight.Delete(job.ServerID)
					close(mine.done)
				})
			}, nil
		}

		holder := held.(*flight)
		if holder.taskId == job.TaskID {
			metrics.TaskRejected(string(job.Kind))
			entry.Info("Skipped generation job: this task is already executing")
			return nil, ErrTaskInFlight
		}

		entry.WithField("running_task_id", holder.taskId).Debug("Waiting for the session's previous task to finish")
		select {
		case <-holder.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Recover hands the runner every task that was processing when the previous
// process stopped. Tasks older than maxAge are failed as timed out instead,
// so the user can retry them. It returns how many tasks were re-enqueued and failed.
func (rs *RunnerService) Recover(ctx context.Context, scheduler wizard.Scheduler, maxAge time.Duration) (requeued, expired int, err error) {
	sessions, err := rs.sessions.ListProcessing(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list processing sessions: %w", err)
	}

	for _, session := range sessions {
		if session.Task == nil {
			continue
		}
		task := *session.Task
		job := &queue.GenerationJob{
			TaskID:         task.Id,
			ServerID:       session.ServerId,
			OrganizationID: session.OrganizationId,
			Kind:           task.Kind,
		}
		entry := logger.WithSession(session.ServerId).WithFields(logrus.Fields{
			"task_id": task.Id,
			"kind":    task.Kind,
		})

		if rs.machine.Expired(session, maxAge) {
			_, settleErr := rs.settle(ctx, job, func(s *models.WizardSession) (*models.WizardSession, error) {
				return rs.machine.ApplyFailure(s, task.Id, wizard.TimedOutReason)
			})
			switch {
			case errors.Is(settleErr, wizard.ErrStaleTask):
				entry.Debug("Recovered task settled in the meantime")
			case settleErr != nil:
				entry.WithError(settleErr).Error("Failed to expire recovered task")
			default:
				expired++
				metrics.TaskFinished(string(task.Kind), metrics.OutcomeTimedOut, time.Since(task.EnqueuedAt))
				entry.Warn("Expired task lost before it could run")
			}
			continue
		}

		if err := scheduler.Enqueue(ctx, job); err != nil {
			return requeued, expired, fmt.Errorf("failed to re-enqueue task %s: %w", task.Id, err)
		}
		requeued++
		entry.Info("Re-enqueued task left processing by a previous run")
	}
	return requeued, expired, nil
}

// InFlight returns the number of sessions with a task executing right now
func (rs *RunnerService) InFlight() int {
	n := 0
	rs.inFlight.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// generate calls the generator and gives up at the task deadline even if the
// generator ignores cancellation.
func (rs *RunnerService) generate(ctx context.Context, task models.Task) (models.TaskResult, error) {
	if rs.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rs.timeout)
		defer cancel()
	}

	type outcome struct {
		result models.TaskResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := rs.generator.Generate(ctx, task.Kind, task.Input)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.TaskResult{}, context.DeadlineExceeded
		}
		return o.result, o.err
	case <-ctx.Done():
		return models.TaskResult{}, ctx.Err()
	}
}

// settle applies an outcome with a compare-and-swap, reloading on conflicts
func (rs *RunnerService) settle(ctx context.Context, job *queue.GenerationJob, apply func(*models.WizardSession) (*models.WizardSession, error)) (*models.WizardSession, error) {
	for attempt := 1; attempt <= maxSettleAttempts; attempt++ {
		current, err := rs.sessions.Get(ctx, job.ServerID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload session: %w", err)
		}

		next, err := apply(current)
		if err != nil {
			return nil, err
		}

		err = rs.sessions.Update(ctx, next, current.Version)
		if err == nil {
			metrics.Transition(string(current.Step), string(next.Step))
			return next, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, fmt.Errorf("failed to store session: %w", err)
		}
		logger.WithSession(job.ServerID).WithField("attempt", attempt).Debug("Session changed while storing task outcome, retrying")
	}
	return nil, fmt.Errorf("%w: gave up after %d attempts", repository.ErrVersionConflict, maxSettleAttempts)
}

// failureReason turns a generation error into the message shown to users
func failureReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return wizard.TimedOutReason
	}
	var genErr *generator.Error
	if errors.As(err, &genErr) {
		return genErr.Reason
	}
	return err.Error()
}

// normalizeResult checks a generator result against its task kind and fills in missing ids
func normalizeResult(kind models.TaskKind, result models.TaskResult) (models.TaskResult, error) {
	switch kind {
	case models.KindSuggestTools:
		if len(result.Tools) == 0 {
			return result, errors.New("generator returned no tools")
		}
		tools := make([]models.Tool, len(result.Tools))
		seen := make(map[string]bool, len(result.Tools))
		for i, t := range result.Tools {
			if t.Name == "" {
				return result, fmt.Errorf("generator returned a tool without a name at position %d", i+1)
			}
			if t.Id == "" {
				t.Id = fmt.Sprintf("tool_%d", i+1)
			}
			if seen[t.Id] {
				return result, fmt.Errorf("generator returned duplicate tool id %q", t.Id)
			}
			seen[t.Id] = true
			tools[i] = t
		}
		return models.TaskResult{Tools: tools}, nil

	case models.KindSuggestEnvVars:
		envVars := make([]models.EnvVar, len(result.EnvVars))
		seen := make(map[string]bool, len(result.EnvVars))
		for i, v := range result.EnvVars {
			if v.Name == "" {
				return result, fmt.Errorf("generator returned an env var without a name at position %d", i+1)
			}
			if v.Id == "" {
				v.Id = fmt.Sprintf("env_%d", i+1)
			}
			if seen[v.Id] {
				return result, fmt.Errorf("generator returned duplicate env var id %q", v.Id)
			}
			seen[v.Id] = true
			v.Value = ""
			envVars[i] = v
		}
		return models.TaskResult{EnvVars: envVars}, nil

	case models.KindGenerateCode:
		code := result.GeneratedCode
		if code == nil || len(code.Files) == 0 {
			return result, errors.New("generator returned no code")
		}
		if err := validateManifest(code); err != nil {
			return result, err
		}
		if code.GeneratedAt.IsZero() {
			code.GeneratedAt = time.Now().UTC()
		}
		return models.TaskResult{GeneratedCode: code}, nil
	}

	return result, fmt.Errorf("%w: %s", generator.ErrUnsupportedKind, kind)
}

// validateManifest checks the generated mhive.config.yaml is present and valid YAML
func validateManifest(code *models.GeneratedCode) error {
	data, ok := code.Files[generator.ConfigFile]
	if !ok {
		return fmt.Errorf("generated code is missing %s", generator.ConfigFile)
	}

	var manifest map[string]interface{}
	if err := yaml.Unmarshal([]byte(data), &manifest); err != nil {
		return fmt.Errorf("generated %s is not valid YAML: %w", generator.ConfigFile, err)
	}
	if len(manifest) == 0 {
		return fmt.Errorf("generated %s is empty", generator.ConfigFile)
	}
	if code.Entrypoint != "" {
		if _, ok := code.Files[code.Entrypoint]; !ok {
			return fmt.Errorf("generated code is missing its entrypoint %s", code.Entrypoint)
		}
	}
	return nil
}
