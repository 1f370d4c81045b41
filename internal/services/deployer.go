package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/imyashkale/mcpwizard/internal/logger"
	"github.com/imyashkale/mcpwizard/internal/models"
)

// ECRAPI is the subset of the ECR client the deployer uses
type ECRAPI interface {
	DescribeRepositories(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error)
	CreateRepository(ctx context.Context, params *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error)
}

// ECRDeployer provisions the image repository a generated server is built into
type ECRDeployer struct {
	ecrClient ECRAPI
	region    string
	accountID string
	now       func() time.Time
}

// NewECRDeployer creates a deployer from an AWS configuration
func NewECRDeployer(cfg aws.Config, accountID string) *ECRDeployer {
	return NewECRDeployerFromAPI(ecr.NewFromConfig(cfg), cfg.Region, accountID)
}

// NewECRDeployerFromAPI creates a deployer around an existing ECR client
func NewECRDeployerFromAPI(api ECRAPI, region, accountID string) *ECRDeployer {
	return &ECRDeployer{
		ecrClient: api,
		region:    region,
		accountID: accountID,
		now:       time.Now,
	}
}

// RepositoryName returns the ECR repository name of a server: mcp-{server_id}
func RepositoryName(serverID string) string {
	return fmt.Sprintf("mcp-%s", serverID)
}

// Deploy makes sure the server's repository exists and returns where it lives
func (d *ECRDeployer) Deploy(ctx context.Context, session *models.WizardSession) (*models.DeploymentInfo, error) {
	if session.GeneratedCode == nil {
		return nil, errors.New("no generated code to deploy")
	}

	repoName, err := d.GetOrCreateRepository(ctx, session.ServerId)
	if err != nil {
		return nil, err
	}

	info := &models.DeploymentInfo{
		RepositoryName: repoName,
		RepositoryURI:  d.GetRepositoryURI(repoName),
		DeployedAt:     d.now().UTC(),
	}

	logger.WithSession(session.ServerId).WithField("repository_uri", info.RepositoryURI).Info("Server repository ready")
	return info, nil
}

// GetOrCreateRepository gets or creates an ECR repository for the server
func (d *ECRDeployer) GetOrCreateRepository(ctx context.Context, serverID string) (string, error) {
	repoName := RepositoryName(serverID)

	describeOutput, err := d.ecrClient.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{repoName},
	})
	if err == nil && len(describeOutput.Repositories) > 0 {
		return repoName, nil
	}

	var notFound *types.RepositoryNotFoundException
	if err != nil && !errors.As(err, &notFound) {
		return "", fmt.Errorf("failed to describe ECR repository: %w", err)
	}

	createOutput, err := d.ecrClient.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(repoName),
		Tags: []types.Tag{
			{
				Key:   aws.String("managed-by"),
				Value: aws.String("mcpwizard"),
			},
			{
				Key:   aws.String("server-id"),
				Value: aws.String(serverID),
			},
		},
	})
	if err != nil {
		var exists *types.RepositoryAlreadyExistsException
		if errors.As(err, &exists) {
			return repoName, nil
		}
		return "", fmt.Errorf("failed to create ECR repository: %w", err)
	}

	if createOutput.Repository != nil {
		logger.WithField("repository_uri", aws.ToString(createOutput.Repository.RepositoryUri)).Info("Created ECR repository")
	}
	return repoName, nil
}

// GetRepositoryURI returns the full ECR repository URI
func (d *ECRDeployer) GetRepositoryURI(repoName string) string {
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com/%s", d.accountID, d.region, repoName)
}

// NopDeployer records a deployment without provisioning anything
type NopDeployer struct {
	now func() time.Time
}

// NewNopDeployer creates a deployer for local development
func NewNopDeployer() *NopDeployer {
	return &NopDeployer{now: time.Now}
}

// Deploy returns deployment details naming the would-be repository
func (d *NopDeployer) Deploy(ctx context.Context, session *models.WizardSession) (*models.DeploymentInfo, error) {
	if session.GeneratedCode == nil {
		return nil, errors.New("no generated code to deploy")
	}
	return &models.DeploymentInfo{
		RepositoryName: RepositoryName(session.ServerId),
		DeployedAt:     d.now().UTC(),
	}, nil
}
