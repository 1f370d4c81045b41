// Package events announces settled background tasks to other services.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/imyashkale/mcpwizard/internal/models"
)

// ErrClosed is returned when publishing on a closed publisher
var ErrClosed = errors.New("publisher closed")

// SubjectPrefix is the root of every wizard subject
const SubjectPrefix = "wizard.sessions"

// TaskSettled is emitted once a background task leaves processing
type TaskSettled struct {
	ServerId         string                  `json:"server_id"`
	OrganizationId   string                  `json:"organization_id"`
	TaskId           string                  `json:"task_id"`
	Kind             models.TaskKind         `json:"kind"`
	Step             models.Step             `json:"step"`
	ProcessingStatus models.ProcessingStatus `json:"processing_status"`
	ProcessingError  string                  `json:"processing_error,omitempty"`
	SettledAt        time.Time               `json:"settled_at"`
}

// Subject returns the subject a settled event for serverId is published on
func Subject(serverId string) string {
	return fmt.Sprintf("%s.%s.settled", SubjectPrefix, serverId)
}

// Publisher delivers settled events. Implementations must be safe for concurrent use.
type Publisher interface {
	PublishSettled(ctx context.Context, event TaskSettled) error
	Close() error
}

// NewTaskSettled builds the event for a session that just left processing
func NewTaskSettled(session *models.WizardSession, taskId string, kind models.TaskKind) TaskSettled {
	return TaskSettled{
		ServerId:         session.ServerId,
		OrganizationId:   session.OrganizationId,
		TaskId:           taskId,
		Kind:             kind,
		Step:             session.Step,
		ProcessingStatus: session.ProcessingStatus,
		ProcessingError:  session.ProcessingError,
		SettledAt:        session.UpdatedAt,
	}
}

func encode(event TaskSettled) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode settled event: %w", err)
	}
	return data, nil
}

// nopPublisher drops every event
type nopPublisher struct{}

// NewNopPublisher returns a publisher for deployments without a message bus
func NewNopPublisher() Publisher {
	return nopPublisher{}
}

func (nopPublisher) PublishSettled(context.Context, TaskSettled) error { return nil }
func (nopPublisher) Close() error                                      { return nil }

// MemoryPublisher records events in process
type MemoryPublisher struct {
	mu     sync.Mutex
	events []TaskSettled
	closed bool
}

// NewMemoryPublisher creates an in-process publisher
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// PublishSettled records event
func (p *MemoryPublisher) PublishSettled(ctx context.Context, event TaskSettled) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of everything published so far
func (p *MemoryPublisher) Events() []TaskSettled {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TaskSettled(nil), p.events...)
}

// Close stops accepting events
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
