package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/imyashkale/mcpwizard/internal/models"
)

// memorySessionRepository keeps sessions in process memory. Used for local
// development (SESSION_STORE=memory) and tests.
type memorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*models.WizardSession
}

// NewMemorySessionRepository creates an empty in-memory session repository
func NewMemorySessionRepository() SessionRepository {
	return &memorySessionRepository{
		sessions: make(map[string]*models.WizardSession),
	}
}

func (r *memorySessionRepository) Create(ctx context.Context, session *models.WizardSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ServerId]; exists {
		return ErrAlreadyExists
	}
	r.sessions[session.ServerId] = session.Clone()
	return nil
}

func (r *memorySessionRepository) Get(ctx context.Context, serverId string) (*models.WizardSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[serverId]
	if !ok {
		return nil, ErrNotFound
	}
	return session.Clone(), nil
}

func (r *memorySessionRepository) Update(ctx context.Context, session *models.WizardSession, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.sessions[session.ServerId]
	if !ok {
		return ErrVersionConflict
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}

	candidate := session.Clone()
	candidate.Version = expectedVersion + 1
	r.sessions[session.ServerId] = candidate
	session.Version = candidate.Version
	return nil
}

func (r *memorySessionRepository) ListByOrganization(ctx context.Context, organizationId string) ([]*models.WizardSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*models.WizardSession, 0)
	for _, s := range r.sessions {
		if s.OrganizationId == organizationId {
			sessions = append(sessions, s.Clone())
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (r *memorySessionRepository) ListProcessing(ctx context.Context) ([]*models.WizardSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*models.WizardSession, 0)
	for _, s := range r.sessions {
		if s.ProcessingStatus == models.StatusProcessing {
			sessions = append(sessions, s.Clone())
		}
	}
	return sessions, nil
}
