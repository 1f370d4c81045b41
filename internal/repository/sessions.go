package repository

import (
	"context"

	"github.com/imyashkale/mcpwizard/internal/database"
	"github.com/imyashkale/mcpwizard/internal/models"
)

// Re-export errors from database package so callers depend on one place
var (
	ErrNotFound        = database.ErrNotFound
	ErrAlreadyExists   = database.ErrAlreadyExists
	ErrVersionConflict = database.ErrVersionConflict
)

// SessionRepository defines the interface for wizard session persistence.
// Update is a compare-and-swap on the session version.
type SessionRepository interface {
	Create(ctx context.Context, session *models.WizardSession) error
	Get(ctx context.Context, serverId string) (*models.WizardSession, error)
	Update(ctx context.Context, session *models.WizardSession, expectedVersion int64) error
	ListByOrganization(ctx context.Context, organizationId string) ([]*models.WizardSession, error)
	// ListProcessing returns the sessions of every organization that wait on a background task
	ListProcessing(ctx context.Context) ([]*models.WizardSession, error)
}

// dynamoSessionRepository implements SessionRepository using DynamoDB
type dynamoSessionRepository struct {
	db *database.SessionOperations
}

// NewSessionRepository creates a new DynamoDB-backed session repository
func NewSessionRepository(db *database.SessionOperations) SessionRepository {
	return &dynamoSessionRepository{
		db: db,
	}
}

// Create stores a new session
func (r *dynamoSessionRepository) Create(ctx context.Context, session *models.WizardSession) error {
	return r.db.CreateSession(ctx, session)
}

// Get retrieves a session by server ID
func (r *dynamoSessionRepository) Get(ctx context.Context, serverId string) (*models.WizardSession, error) {
	return r.db.GetSession(ctx, serverId)
}

// Update replaces a session if nobody else wrote it since expectedVersion
func (r *dynamoSessionRepository) Update(ctx context.Context, session *models.WizardSession, expectedVersion int64) error {
	return r.db.UpdateSession(ctx, session, expectedVersion)
}

// ListByOrganization retrieves all sessions of an organization
func (r *dynamoSessionRepository) ListByOrganization(ctx context.Context, organizationId string) ([]*models.WizardSession, error) {
	return r.db.GetSessionsByOrganization(ctx, organizationId)
}

// ListProcessing retrieves every session waiting on a background task
func (r *dynamoSessionRepository) ListProcessing(ctx context.Context) ([]*models.WizardSession, error) {
	return r.db.GetProcessingSessions(ctx)
}
