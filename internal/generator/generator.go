// Package generator talks to the model backend that produces tool
// suggestions, env var suggestions and server code.
package generator

import (
	"context"
	"errors"

	"github.com/imyashkale/mcpwizard/internal/models"
)

// ErrUnsupportedKind is returned for a task kind the generator does not know
var ErrUnsupportedKind = errors.New("unsupported task kind")

// Generator produces the output of one background task
type Generator interface {
	Generate(ctx context.Context, kind models.TaskKind, input models.TaskInput) (models.TaskResult, error)
}

// Func adapts a plain function to Generator
type Func func(ctx context.Context, kind models.TaskKind, input models.TaskInput) (models.TaskResult, error)

// Generate calls f
func (f Func) Generate(ctx context.Context, kind models.TaskKind, input models.TaskInput) (models.TaskResult, error) {
	return f(ctx, kind, input)
}

// Error is a failure reported by the backend. Its message is what users see.
type Error struct {
	StatusCode int
	Reason     string
}

func (e *Error) Error() string {
	return e.Reason
}
