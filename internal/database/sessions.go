package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imyashkale/mcpwizard/internal/logger"
	"github.com/imyashkale/mcpwizard/internal/models"
)

var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned when a record already exists
	ErrAlreadyExists = errors.New("record already exists")
	// ErrVersionConflict is returned when a conditional write lost against a concurrent writer
	ErrVersionConflict = errors.New("record was modified concurrently")
)

// sessionItem is the DynamoDB representation of a wizard session
type sessionItem struct {
	ServerId         string                 `dynamodbav:"ServerId"`
	OrganizationId   string                 `dynamodbav:"OrganizationId"`
	UserId           string                 `dynamodbav:"UserId"`
	Step             string                 `dynamodbav:"Step"`
	ProcessingStatus string                 `dynamodbav:"ProcessingStatus"`
	ProcessingError  string                 `dynamodbav:"ProcessingError,omitempty"`
	Description      string                 `dynamodbav:"Description"`
	TechnicalDetails string                 `dynamodbav:"TechnicalDetails,omitempty"`
	Tools            []models.Tool          `dynamodbav:"Tools"`
	SelectedToolIds  []string               `dynamodbav:"SelectedToolIds"`
	EnvVars          []models.EnvVar        `dynamodbav:"EnvVars"`
	GeneratedCode    *models.GeneratedCode  `dynamodbav:"GeneratedCode,omitempty"`
	Task             *models.Task           `dynamodbav:"Task,omitempty"`
	BearerToken      string                 `dynamodbav:"BearerToken,omitempty"`
	ServerURL        string                 `dynamodbav:"ServerURL,omitempty"`
	Deployment       *models.DeploymentInfo `dynamodbav:"Deployment,omitempty"`
	Version          int64                  `dynamodbav:"Version"`
	CreatedAt        int64                  `dynamodbav:"CreatedAt"`
	UpdatedAt        int64                  `dynamodbav:"UpdatedAt"`
}

// SessionOperations handles all DynamoDB operations for wizard sessions
type SessionOperations struct {
	client    *Client
	tableName string
}

// NewSessionOperations creates a new SessionOperations instance
func NewSessionOperations(client *Client, tableName string) *SessionOperations {
	return &SessionOperations{
		client:    client,
		tableName: tableName,
	}
}

// CreateSession stores a new session. Fails with ErrAlreadyExists if the server id is taken.
func (so *SessionOperations) CreateSession(ctx context.Context, session *models.WizardSession) error {
	av, err := attributevalue.MarshalMap(toItem(session))
	if err != nil {
		return fmt.Errorf("failed to marshal wizard session: %w", err)
	}

	logger.WithSession(session.ServerId).WithField("organization_id", session.OrganizationId).Debug("Creating wizard session in DynamoDB")

	_, err = so.client.DynamoDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(so.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(ServerId)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create wizard session: %w", err)
	}

	return nil
}

// GetSession retrieves a session by server ID using a strongly consistent read
func (so *SessionOperations) GetSession(ctx context.Context, serverId string) (*models.WizardSession, error) {
	result, err := so.client.DynamoDB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(so.tableName),
		Key: map[string]types.AttributeValue{
			"ServerId": &types.AttributeValueMemberS{Value: serverId},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		logger.WithSession(serverId).WithError(err).Error("Failed to get wizard session from DynamoDB")
		return nil, fmt.Errorf("failed to get wizard session: %w", err)
	}

	if result.Item == nil {
		return nil, ErrNotFound
	}

	session, err := unmarshalSession(result.Item)
	if err != nil {
		logger.WithSession(serverId).WithError(err).Error("Failed to unmarshal wizard session")
		return nil, fmt.Errorf("failed to unmarshal wizard session: %w", err)
	}

	return session, nil
}

// UpdateSession replaces a session if its stored version still equals expectedVersion.
// On success session.Version is expectedVersion+1.
func (so *SessionOperations) UpdateSession(ctx context.Context, session *models.WizardSession, expectedVersion int64) error {
	candidate := *session
	candidate.Version = expectedVersion + 1

	av, err := attributevalue.MarshalMap(toItem(&candidate))
	if err != nil {
		return fmt.Errorf("failed to marshal wizard session: %w", err)
	}

	_, err = so.client.DynamoDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(so.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_exists(ServerId) AND #version = :expected"),
		ExpressionAttributeNames: map[string]string{
			"#version": "Version",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			logger.WithFields(map[string]interface{}{
				"server_id": session.ServerId,
				"version":   expectedVersion,
			}).Debug("Conditional session write rejected")
			return ErrVersionConflict
		}
		logger.WithSession(session.ServerId).WithError(err).Error("Failed to update wizard session in DynamoDB")
		return fmt.Errorf("failed to update wizard session: %w", err)
	}

	session.Version = candidate.Version
	return nil
}

// GetSessionsByOrganization retrieves all sessions of an organization
func (so *SessionOperations) GetSessionsByOrganization(ctx context.Context, organizationId string) ([]*models.WizardSession, error) {
	sessions, err := so.scanSessions(ctx, "OrganizationId = :orgId", map[string]types.AttributeValue{
		":orgId": &types.AttributeValueMemberS{Value: organizationId},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan wizard sessions by organization: %w", err)
	}
	return sessions, nil
}

// GetProcessingSessions retrieves every session waiting on a background task
func (so *SessionOperations) GetProcessingSessions(ctx context.Context) ([]*models.WizardSession, error) {
	sessions, err := so.scanSessions(ctx, "ProcessingStatus = :status", map[string]types.AttributeValue{
		":status": &types.AttributeValueMemberS{Value: string(models.StatusProcessing)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan processing wizard sessions: %w", err)
	}
	return sessions, nil
}

// scanSessions pages through a filtered table scan
func (so *SessionOperations) scanSessions(ctx context.Context, filter string, values map[string]types.AttributeValue) ([]*models.WizardSession, error) {
	sessions := make([]*models.WizardSession, 0)
	var startKey map[string]types.AttributeValue

	for {
		result, err := so.client.DynamoDB.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(so.tableName),
			FilterExpression:          aws.String(filter),
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, err
		}

		for _, item := range result.Items {
			session, err := unmarshalSession(item)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal wizard session: %w", err)
			}
			sessions = append(sessions, session)
		}

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		startKey = result.LastEvaluatedKey
	}

	return sessions, nil
}

func toItem(s *models.WizardSession) sessionItem {
	return sessionItem{
		ServerId:         s.ServerId,
		OrganizationId:   s.OrganizationId,
		UserId:           s.UserId,
		Step:             string(s.Step),
		ProcessingStatus: string(s.ProcessingStatus),
		ProcessingError:  s.ProcessingError,
		Description:      s.Description,
		TechnicalDetails: s.TechnicalDetails,
		Tools:            s.Tools,
		SelectedToolIds:  s.SelectedToolIds,
		EnvVars:          s.EnvVars,
		GeneratedCode:    s.GeneratedCode,
		Task:             s.Task,
		BearerToken:      s.BearerToken,
		ServerURL:        s.ServerURL,
		Deployment:       s.Deployment,
		Version:          s.Version,
		CreatedAt:        s.CreatedAt.Unix(),
		UpdatedAt:        s.UpdatedAt.Unix(),
	}
}

// unmarshalSession converts a DynamoDB item to the WizardSession domain model
func unmarshalSession(item map[string]types.AttributeValue) (*models.WizardSession, error) {
	var temp sessionItem
	if err := attributevalue.UnmarshalMap(item, &temp); err != nil {
		return nil, err
	}

	return &models.WizardSession{
		ServerId:         temp.ServerId,
		OrganizationId:   temp.OrganizationId,
		UserId:           temp.UserId,
		Step:             models.Step(temp.Step),
		ProcessingStatus: models.ProcessingStatus(temp.ProcessingStatus),
		ProcessingError:  temp.ProcessingError,
		Description:      temp.Description,
		TechnicalDetails: temp.TechnicalDetails,
		Tools:            temp.Tools,
		SelectedToolIds:  temp.SelectedToolIds,
		EnvVars:          temp.EnvVars,
		GeneratedCode:    temp.GeneratedCode,
		Task:             temp.Task,
		BearerToken:      temp.BearerToken,
		ServerURL:        temp.ServerURL,
		Deployment:       temp.Deployment,
		Version:          temp.Version,
		CreatedAt:        time.Unix(temp.CreatedAt, 0),
		UpdatedAt:        time.Unix(temp.UpdatedAt, 0),
	}, nil
}
