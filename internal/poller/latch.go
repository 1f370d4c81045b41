package poller

import "github.com/imyashkale/mcpwizard/internal/models"

// EventKind names a poller notification
type EventKind string

const (
	EventToolsReady   EventKind = "tools_ready"
	EventEnvVarsReady EventKind = "env_vars_ready"
	EventError        EventKind = "error"
	EventComplete     EventKind = "complete"
	EventNetworkError EventKind = "network_error"
)

// Event is one notification derived from a fetched session
type Event struct {
	Kind     EventKind
	ServerId string
	Step     models.Step
	Message  string
	Session  *models.WizardSessionResponse
	Err      error
}

// Latch turns a stream of fetched states into notifications that fire at most
// once per session and condition. Observing a different server id resets it.
type Latch struct {
	serverId     string
	toolsReady   bool
	envVarsReady bool
	lastError    string
	lastComplete models.Step
}

// NewLatch creates a latch for serverId
func NewLatch(serverId string) *Latch {
	l := &Latch{}
	l.Reset(serverId)
	return l
}

// Reset clears every latched flag and binds the latch to serverId
func (l *Latch) Reset(serverId string) {
	*l = Latch{serverId: serverId, lastComplete: models.StepZero}
}

// ServerId returns the session the latch is bound to
func (l *Latch) ServerId() string {
	return l.serverId
}

// Observe returns the notifications state triggers
func (l *Latch) Observe(state *models.WizardSessionResponse) []Event {
	if state == nil {
		return nil
	}
	if state.ServerId != "" && state.ServerId != l.serverId {
		l.Reset(state.ServerId)
	}

	var events []Event
	emit := func(kind EventKind, message string) {
		events = append(events, Event{
			Kind:     kind,
			ServerId: l.serverId,
			Step:     state.Step,
			Message:  message,
			Session:  state,
		})
	}

	idle := state.ProcessingStatus == models.StatusIdle

	if idle && state.Step == models.StepTools && !l.toolsReady {
		l.toolsReady = true
		emit(EventToolsReady, "")
	}
	if idle && state.Step == models.StepEnvVars && !l.envVarsReady {
		l.envVarsReady = true
		emit(EventEnvVarsReady, "")
	}
	if state.ProcessingStatus == models.StatusFailed && state.ProcessingError != l.lastError {
		l.lastError = state.ProcessingError
		emit(EventError, state.ProcessingError)
	}
	if state.ProcessingStatus != models.StatusProcessing && state.Step != l.lastComplete {
		l.lastComplete = state.Step
		emit(EventComplete, "")
	}

	return events
}
