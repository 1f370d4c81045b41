package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/imyashkale/mcpwizard/internal/models"
	"github.com/imyashkale/mcpwizard/internal/wizard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   string
		want   error
	}{
		{name: "Validation", status: http.StatusBadRequest, code: "validation_error", want: wizard.ErrValidation},
		{name: "Unauthorized", status: http.StatusUnauthorized, code: "unauthorized", want: ErrUnauthorized},
		{name: "Payment", status: http.StatusPaymentRequired, code: "payment_required", want: wizard.ErrPaymentRequired},
		{name: "Not found", status: http.StatusNotFound, code: "not_found", want: wizard.ErrNotFound},
		{name: "Invalid transition", status: http.StatusConflict, code: "invalid_transition", want: wizard.ErrInvalidTransition},
		{name: "Precondition", status: http.StatusConflict, code: "precondition_failed", want: wizard.ErrPreconditionFailed},
		{name: "Rate limited", status: http.StatusTooManyRequests, code: "rate_limited", want: ErrRateLimited},
		{name: "Generation failed", status: http.StatusBadGateway, code: "generation_failed", want: wizard.ErrGenerationFailure},
		{name: "Unavailable", status: http.StatusServiceUnavailable, want: ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(models.ErrorResponse{Error: tt.code, Message: "boom"})
			}))
			defer srv.Close()

			_, err := New(srv.URL, "token").Retry(context.Background(), "srv-1")
			assert.ErrorIs(t, err, tt.want)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, "boom", apiErr.Error())
		})
	}
}

func TestClient_TransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url, "token").GetState(context.Background(), "srv-1")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestClient_SendsTokenAndBody(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody models.SubmitToolsRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(models.WizardSessionResponse{ServerId: "srv-1", Step: models.StepEnvVars})
	}))
	defer srv.Close()

	session, err := New(srv.URL+"/", "secret").SubmitTools(context.Background(), "srv-1", []string{"tool_1"})
	require.NoError(t, err)
	assert.Equal(t, models.StepEnvVars, session.Step)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "/api/v1/wizard/sessions/srv-1/tools", gotPath)
	assert.Equal(t, []string{"tool_1"}, gotBody.SelectedToolIds)
}

func TestClient_GenerateCode(t *testing.T) {
	t.Run("Ready", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(models.GenerateCodeResponse{
				GeneratedCode: &models.GeneratedCode{Files: map[string]string{"main.go": "package main"}, Entrypoint: "main.go"},
			})
		}))
		defer srv.Close()

		code, session, err := New(srv.URL, "").GenerateCode(context.Background(), "srv-1")
		require.NoError(t, err)
		assert.Nil(t, session)
		require.NotNil(t, code)
		assert.Equal(t, "main.go", code.Entrypoint)
	})

	t.Run("Still processing", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(models.WizardSessionResponse{ServerId: "srv-1", ProcessingStatus: models.StatusProcessing})
		}))
		defer srv.Close()

		code, session, err := New(srv.URL, "").GenerateCode(context.Background(), "srv-1")
		require.NoError(t, err)
		assert.Nil(t, code)
		require.NotNil(t, session)
		assert.Equal(t, models.StatusProcessing, session.ProcessingStatus)
	})
}
