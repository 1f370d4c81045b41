package models

import "time"

// Step is a named stage of the server-creation wizard
type Step string

const (
	StepZero     Step = "step_zero" // client-local, never persisted
	StepDescribe Step = "describe"
	StepTools    Step = "tools"
	StepEnvVars  Step = "env_vars"
	StepAuth     Step = "auth"
	StepDeploy   Step = "deploy"
	StepComplete Step = "complete"
)

// ProcessingStatus is the background-task lifecycle flag of a session
type ProcessingStatus string

const (
	StatusIdle       ProcessingStatus = "idle"
	StatusProcessing ProcessingStatus = "processing"
	StatusFailed     ProcessingStatus = "failed"
)

// TaskKind identifies a background generation operation
type TaskKind string

const (
	KindSuggestTools   TaskKind = "suggest_tools"
	KindSuggestEnvVars TaskKind = "suggest_env_vars"
	KindGenerateCode   TaskKind = "generate_code"
)

// Tool is a suggested MCP tool
type Tool struct {
	Id          string                 `json:"id" dynamodbav:"Id"`
	Name        string                 `json:"name" dynamodbav:"Name"`
	Description string                 `json:"description" dynamodbav:"Description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty" dynamodbav:"Parameters,omitempty"`
}

// EnvVar is a configuration variable the generated server needs.
// Value is only ever filled by the user.
type EnvVar struct {
	Id          string `json:"id" dynamodbav:"Id"`
	Name        string `json:"name" dynamodbav:"Name"`
	Description string `json:"description" dynamodbav:"Description"`
	Value       string `json:"value,omitempty" dynamodbav:"Value,omitempty"`
}

// GeneratedCode is the deployable artifact produced by code generation
type GeneratedCode struct {
	Files       map[string]string `json:"files" dynamodbav:"Files"`
	Entrypoint  string            `json:"entrypoint" dynamodbav:"Entrypoint"`
	GeneratedAt time.Time         `json:"generated_at" dynamodbav:"GeneratedAt"`
}

// TaskInput is the input a background task was started with
type TaskInput struct {
	Description      string   `json:"description,omitempty" dynamodbav:"Description,omitempty"`
	TechnicalDetails string   `json:"technical_details,omitempty" dynamodbav:"TechnicalDetails,omitempty"`
	Feedback         string   `json:"feedback,omitempty" dynamodbav:"Feedback,omitempty"`
	ToolIds          []string `json:"tool_ids,omitempty" dynamodbav:"ToolIds,omitempty"`
	SelectedTools    []Tool   `json:"selected_tools,omitempty" dynamodbav:"SelectedTools,omitempty"`
	EnvVars          []EnvVar `json:"env_vars,omitempty" dynamodbav:"EnvVars,omitempty"`
}

// Task records the last background task dispatched for a session.
// Retry replays it verbatim.
type Task struct {
	Id    string    `json:"id" dynamodbav:"Id"`
	Kind  TaskKind  `json:"kind" dynamodbav:"Kind"`
	Input TaskInput `json:"input" dynamodbav:"Input"`
	// EnqueuedAt is when the task was last handed to the runner
	EnqueuedAt time.Time `json:"enqueued_at" dynamodbav:"EnqueuedAt"`
}

// DeploymentInfo describes where a completed server was provisioned
type DeploymentInfo struct {
	RepositoryName string    `json:"repository_name,omitempty" dynamodbav:"RepositoryName,omitempty"`
	RepositoryURI  string    `json:"repository_uri,omitempty" dynamodbav:"RepositoryURI,omitempty"`
	DeployedAt     time.Time `json:"deployed_at" dynamodbav:"DeployedAt"`
}

// WizardSession represents the domain model for one server-creation attempt
// This is a database-agnostic business entity
type WizardSession struct {
	ServerId         string
	OrganizationId   string
	UserId           string // Auth0 user ID
	Step             Step
	ProcessingStatus ProcessingStatus
	ProcessingError  string
	Description      string
	TechnicalDetails string
	Tools            []Tool
	SelectedToolIds  []string
	EnvVars          []EnvVar
	GeneratedCode    *GeneratedCode
	Task             *Task
	BearerToken      string
	ServerURL        string
	Deployment       *DeploymentInfo
	Version          int64 // incremented on every write
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Clone returns a deep copy so callers can mutate a candidate state
// without touching the stored one.
func (s *WizardSession) Clone() *WizardSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.Tools != nil {
		c.Tools = make([]Tool, len(s.Tools))
		for i, t := range s.Tools {
			c.Tools[i] = t
			if t.Parameters != nil {
				c.Tools[i].Parameters = make(map[string]interface{}, len(t.Parameters))
				for k, v := range t.Parameters {
					c.Tools[i].Parameters[k] = v
				}
			}
		}
	}
	if s.SelectedToolIds != nil {
		c.SelectedToolIds = append([]string(nil), s.SelectedToolIds...)
	}
	if s.EnvVars != nil {
		c.EnvVars = append([]EnvVar(nil), s.EnvVars...)
	}
	if s.GeneratedCode != nil {
		code := *s.GeneratedCode
		code.Files = make(map[string]string, len(s.GeneratedCode.Files))
		for k, v := range s.GeneratedCode.Files {
			code.Files[k] = v
		}
		c.GeneratedCode = &code
	}
	if s.Task != nil {
		task := *s.Task
		task.Input.ToolIds = append([]string(nil), s.Task.Input.ToolIds...)
		task.Input.SelectedTools = append([]Tool(nil), s.Task.Input.SelectedTools...)
		task.Input.EnvVars = append([]EnvVar(nil), s.Task.Input.EnvVars...)
		c.Task = &task
	}
	if s.Deployment != nil {
		d := *s.Deployment
		c.Deployment = &d
	}
	return &c
}

// ToolIdSet returns the ids of the current tool suggestions
func (s *WizardSession) ToolIdSet() map[string]bool {
	ids := make(map[string]bool, len(s.Tools))
	for _, t := range s.Tools {
		ids[t.Id] = true
	}
	return ids
}

// SelectedTools returns the selected tools in suggestion order
func (s *WizardSession) SelectedTools() []Tool {
	selected := make(map[string]bool, len(s.SelectedToolIds))
	for _, id := range s.SelectedToolIds {
		selected[id] = true
	}
	tools := make([]Tool, 0, len(s.SelectedToolIds))
	for _, t := range s.Tools {
		if selected[t.Id] {
			tools = append(tools, t)
		}
	}
	return tools
}

// TaskResult is the output of a background generation task.
// Only the field matching the task kind is set.
type TaskResult struct {
	Tools         []Tool         `json:"tools,omitempty"`
	EnvVars       []EnvVar       `json:"env_vars,omitempty"`
	GeneratedCode *GeneratedCode `json:"generated_code,omitempty"`
}
