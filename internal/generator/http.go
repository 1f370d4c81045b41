package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/imyashkale/mcpwizard/internal/logger"
	"github.com/imyashkale/mcpwizard/internal/models"
)

// maxErrorBody caps how much of a failed response is read for the reason
const maxErrorBody = 4 * 1024

// HTTPGenerator calls the generation backend over HTTP
type HTTPGenerator struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPGenerator creates a generator for the backend at baseURL.
// Deadlines come from the caller's context.
func NewHTTPGenerator(baseURL, apiKey string) *HTTPGenerator {
	return &HTTPGenerator{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{},
	}
}

type generateRequest struct {
	Kind  models.TaskKind  `json:"kind"`
	Input models.TaskInput `json:"input"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Generate posts the task input to {base}/v1/generate/{kind}
func (g *HTTPGenerator) Generate(ctx context.Context, kind models.TaskKind, input models.TaskInput) (models.TaskResult, error) {
	var result models.TaskResult

	switch kind {
	case models.KindSuggestTools, models.KindSuggestEnvVars, models.KindGenerateCode:
	default:
		return result, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}

	body, err := json.Marshal(generateRequest{Kind: kind, Input: input})
	if err != nil {
		return result, fmt.Errorf("failed to encode generation request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/generate/%s", g.baseURL, kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return result, fmt.Errorf("failed to create generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	started := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return result, fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	entry := logger.WithFields(map[string]interface{}{
		"kind":        kind,
		"status_code": resp.StatusCode,
		"elapsed":     time.Since(started).String(),
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		entry.Warn("Generation backend returned non-OK status")
		return result, decodeError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return result, fmt.Errorf("failed to decode generation response: %w", err)
	}

	entry.Debug("Generation backend responded")
	return result, nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	reason := ""
	var body errorBody
	if json.Unmarshal(raw, &body) == nil {
		reason = body.Message
		if reason == "" {
			reason = body.Error
		}
	}
	if reason == "" {
		reason = strings.TrimSpace(string(raw))
	}
	if reason == "" {
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			reason = "rate limited"
		default:
			reason = fmt.Sprintf("generation backend returned status %d", resp.StatusCode)
		}
	}

	return &Error{StatusCode: resp.StatusCode, Reason: reason}
}
