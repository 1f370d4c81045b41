package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/mcpwizard/internal/logger"
	"github.com/imyashkale/mcpwizard/internal/metrics"
	"github.com/imyashkale/mcpwizard/internal/middleware"
	"github.com/imyashkale/mcpwizard/internal/models"
	"github.com/imyashkale/mcpwizard/internal/wizard"
)

// WizardHandler handles the server-creation wizard endpoints
type WizardHandler struct {
	service *wizard.Service
}

// NewWizardHandler creates a new wizard handler
func NewWizardHandler(service *wizard.Service) *WizardHandler {
	return &WizardHandler{
		service: service,
	}
}

// Start handles creating a session from a description
func (h *WizardHandler) Start(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req models.StartWizardRequest
	if !bindJSON(c, &req) {
		return
	}

	session, err := h.service.Start(c.Request.Context(), caller, req.Description, req.TechnicalDetails)
	if err != nil {
		respondError(c, "start", err)
		return
	}

	c.JSON(http.StatusCreated, models.StartWizardResponse{
		ServerId: session.ServerId,
		Session:  session.ToResponse(),
	})
}

// List handles listing the caller organization's sessions
func (h *WizardHandler) List(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	sessions, err := h.service.List(c.Request.Context(), caller)
	if err != nil {
		respondError(c, "list", err)
		return
	}

	responses := make([]models.WizardSessionResponse, 0, len(sessions))
	for _, s := range sessions {
		responses = append(responses, s.ToResponse())
	}
	c.JSON(http.StatusOK, models.WizardSessionListResponse{
		Sessions: responses,
		Total:    len(responses),
	})
}

// GetState handles reading one session
func (h *WizardHandler) GetState(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	session, err := h.service.GetState(c.Request.Context(), caller, c.Param("server_id"))
	if err != nil {
		respondError(c, "get_state", err)
		return
	}
	c.JSON(http.StatusOK, session.ToResponse())
}

// SubmitTools handles the tool selection
func (h *WizardHandler) SubmitTools(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req models.SubmitToolsRequest
	if !bindJSON(c, &req) {
		return
	}

	session, err := h.service.SubmitTools(c.Request.Context(), caller, c.Param("server_id"), req.SelectedToolIds)
	if err != nil {
		respondError(c, "submit_tools", err)
		return
	}
	c.JSON(http.StatusOK, session.ToResponse())
}

// RefineTools handles a request for new tool suggestions. Suggestions arrive
// asynchronously, so the response carries none yet.
func (h *WizardHandler) RefineTools(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req models.RefineToolsRequest
	if !bindJSON(c, &req) {
		return
	}

	session, err := h.service.RefineTools(c.Request.Context(), caller, c.Param("server_id"), req.Feedback, req.ToolIds)
	if err != nil {
		respondError(c, "refine_tools", err)
		return
	}
	c.JSON(http.StatusAccepted, models.RefineToolsResponse{
		SuggestedTools: []models.Tool{},
		Session:        session.ToResponse(),
	})
}

// SubmitEnvVars handles the env var values
func (h *WizardHandler) SubmitEnvVars(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req models.SubmitEnvVarsRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Values == nil {
		req.Values = map[string]string{}
	}

	session, err := h.service.SubmitEnvVars(c.Request.Context(), caller, c.Param("server_id"), req.Values)
	if err != nil {
		respondError(c, "submit_env_vars", err)
		return
	}
	c.JSON(http.StatusOK, session.ToResponse())
}

// RefineEnvVars handles a request for new env var suggestions
func (h *WizardHandler) RefineEnvVars(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req models.RefineEnvVarsRequest
	if !bindJSON(c, &req) {
		return
	}

	session, err := h.service.RefineEnvVars(c.Request.Context(), caller, c.Param("server_id"), req.Feedback)
	if err != nil {
		respondError(c, "refine_env_vars", err)
		return
	}
	c.JSON(http.StatusAccepted, models.RefineEnvVarsResponse{
		EnvVars: []models.EnvVar{},
		Session: session.ToResponse(),
	})
}

// GenerateCode handles code generation. While generation is still running
// the session is returned with 202 and the client keeps polling.
func (h *WizardHandler) GenerateCode(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	session, err := h.service.GenerateCode(c.Request.Context(), caller, c.Param("server_id"))
	if err != nil {
		respondError(c, "generate_code", err)
		return
	}

	if session.ProcessingStatus == models.StatusProcessing || session.GeneratedCode == nil {
		c.JSON(http.StatusAccepted, session.ToResponse())
		return
	}
	c.JSON(http.StatusOK, models.GenerateCodeResponse{GeneratedCode: session.GeneratedCode})
}

// Activate handles deploying the server and completing the wizard
func (h *WizardHandler) Activate(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	session, err := h.service.Activate(c.Request.Context(), caller, c.Param("server_id"))
	if err != nil {
		respondError(c, "activate", err)
		return
	}
	c.JSON(http.StatusOK, models.ActivateResponse{
		ServerURL:   session.ServerURL,
		BearerToken: session.BearerToken,
	})
}

// Retry handles re-running a failed task
func (h *WizardHandler) Retry(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	session, err := h.service.Retry(c.Request.Context(), caller, c.Param("server_id"))
	if err != nil {
		respondError(c, "retry", err)
		return
	}
	c.JSON(http.StatusOK, session.ToResponse())
}

// requireCaller reads the tenant set by the auth middleware
func requireCaller(c *gin.Context) (models.Caller, bool) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Error:   "unauthorized",
			Message: "Caller not found in context",
		})
		return models.Caller{}, false
	}
	return caller, true
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return false
	}
	return true
}

// respondError maps service errors to HTTP responses
func respondError(c *gin.Context, operation string, err error) {
	status, code := classify(err)
	metrics.OperationError(operation, code)

	entry := logger.WithFields(map[string]interface{}{
		"operation": operation,
		"server_id": c.Param("server_id"),
		"status":    status,
	}).WithError(err)

	if status == http.StatusInternalServerError {
		entry.Error("Wizard operation failed")
		c.JSON(status, models.ErrorResponse{
			Error:   code,
			Message: "Internal error, please try again",
		})
		return
	}

	entry.Debug("Wizard operation rejected")
	c.JSON(status, models.ErrorResponse{
		Error:   code,
		Message: err.Error(),
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, wizard.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, wizard.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, wizard.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, wizard.ErrPreconditionFailed):
		return http.StatusConflict, "precondition_failed"
	case errors.Is(err, wizard.ErrPaymentRequired):
		return http.StatusPaymentRequired, "payment_required"
	case errors.Is(err, wizard.ErrGenerationFailure):
		return http.StatusBadGateway, "generation_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
