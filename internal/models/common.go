package models

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Caller identifies the authenticated tenant making a request
type Caller struct {
	UserId         string
	OrganizationId string
	Plan           string // billing tier, e.g. "default", "pro"
}
