package models

import "time"

// StartWizardRequest represents the request body for starting a wizard run
type StartWizardRequest struct {
	Description      string `json:"description" binding:"required"`
	TechnicalDetails string `json:"technical_details"`
}

// StartWizardResponse is the response for a newly started wizard run
type StartWizardResponse struct {
	ServerId string                `json:"server_id"`
	Session  WizardSessionResponse `json:"session"`
}

// SubmitToolsRequest represents the user's tool selection
type SubmitToolsRequest struct {
	SelectedToolIds []string `json:"selected_tool_ids"`
}

// RefineToolsRequest asks for a new set of tool suggestions
type RefineToolsRequest struct {
	Feedback string   `json:"feedback" binding:"required"`
	ToolIds  []string `json:"tool_ids"`
}

// RefineToolsResponse is returned when a tool refinement has been scheduled
type RefineToolsResponse struct {
	SuggestedTools []Tool                `json:"suggested_tools"`
	Session        WizardSessionResponse `json:"session"`
}

// SubmitEnvVarsRequest carries the env var values keyed by env var id
type SubmitEnvVarsRequest struct {
	Values map[string]string `json:"values"`
}

// RefineEnvVarsRequest asks for a new set of env var suggestions
type RefineEnvVarsRequest struct {
	Feedback string `json:"feedback" binding:"required"`
}

// RefineEnvVarsResponse is returned when an env var refinement has been scheduled
type RefineEnvVarsResponse struct {
	EnvVars []EnvVar              `json:"env_vars"`
	Session WizardSessionResponse `json:"session"`
}

// GenerateCodeResponse carries the generated artifact
type GenerateCodeResponse struct {
	GeneratedCode *GeneratedCode `json:"generated_code"`
}

// ActivateResponse is returned once a server is live
type ActivateResponse struct {
	ServerURL   string `json:"server_url"`
	BearerToken string `json:"bearer_token"`
}

// WizardSessionResponse represents the response structure for a wizard session.
// The generated code body and the replay record stay server-side.
type WizardSessionResponse struct {
	ServerId         string           `json:"server_id"`
	OrganizationId   string           `json:"organization_id"`
	Step             Step             `json:"step"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	ProcessingError  string           `json:"processing_error,omitempty"`
	Description      string           `json:"description"`
	Tools            []Tool           `json:"tools"`
	SelectedToolIds  []string         `json:"selected_tool_ids"`
	EnvVars          []EnvVar         `json:"env_vars"`
	HasGeneratedCode bool             `json:"has_generated_code"`
	BearerToken      string           `json:"bearer_token,omitempty"`
	ServerURL        string           `json:"server_url,omitempty"`
	Deployment       *DeploymentInfo  `json:"deployment,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// WizardSessionListResponse represents the response structure for listing sessions
type WizardSessionListResponse struct {
	Sessions []WizardSessionResponse `json:"sessions"`
	Total    int                     `json:"total"`
}

// ToResponse converts a domain WizardSession to a WizardSessionResponse DTO
func (s *WizardSession) ToResponse() WizardSessionResponse {
	tools := s.Tools
	if tools == nil {
		tools = []Tool{}
	}
	selected := s.SelectedToolIds
	if selected == nil {
		selected = []string{}
	}
	envVars := s.EnvVars
	if envVars == nil {
		envVars = []EnvVar{}
	}
	return WizardSessionResponse{
		ServerId:         s.ServerId,
		OrganizationId:   s.OrganizationId,
		Step:             s.Step,
		ProcessingStatus: s.ProcessingStatus,
		ProcessingError:  s.ProcessingError,
		Description:      s.Description,
		Tools:            tools,
		SelectedToolIds:  selected,
		EnvVars:          envVars,
		HasGeneratedCode: s.GeneratedCode != nil,
		BearerToken:      s.BearerToken,
		ServerURL:        s.ServerURL,
		Deployment:       s.Deployment,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}
