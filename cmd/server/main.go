package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/imyashkale/mcpwizard/internal/billing"
	"github.com/imyashkale/mcpwizard/internal/config"
	"github.com/imyashkale/mcpwizard/internal/database"
	"github.com/imyashkale/mcpwizard/internal/events"
	"github.com/imyashkale/mcpwizard/internal/generator"
	"github.com/imyashkale/mcpwizard/internal/handlers"
	"github.com/imyashkale/mcpwizard/internal/logger"
	"github.com/imyashkale/mcpwizard/internal/middleware"
	"github.com/imyashkale/mcpwizard/internal/queue"
	"github.com/imyashkale/mcpwizard/internal/repository"
	"github.com/imyashkale/mcpwizard/internal/router"
	"github.com/imyashkale/mcpwizard/internal/services"
	"github.com/imyashkale/mcpwizard/internal/wizard"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load application configuration
	cfg := config.New()
	logger.Init(cfg.LogLevel)
	logger.Info("Configuration loaded successfully")

	plans, err := config.LoadPlans(cfg.PlansFile, cfg.DefaultMaxTools)
	if err != nil {
		logger.Fatalf("Failed to load plans: %v", err)
	}

	// Session store
	var sessions repository.SessionRepository
	switch cfg.SessionStore {
	case config.StoreMemory:
		sessions = repository.NewMemorySessionRepository()
		logger.Warn("Using in-memory session store; sessions are lost on restart")
	default:
		dbConfig := database.NewConfig(cfg)
		logger.WithFields(map[string]interface{}{
			"table":  dbConfig.TableName,
			"region": dbConfig.Region,
		}).Info("Initializing DynamoDB client")

		dbClient, err := database.NewClient(ctx, dbConfig)
		if err != nil {
			logger.Fatalf("Failed to initialize DynamoDB client: %v", err)
		}
		sessions = repository.NewSessionRepository(database.NewSessionOperations(dbClient, dbClient.TableName))
	}

	// Generation backend
	var gen generator.Generator
	switch cfg.Generator {
	case config.GeneratorStatic:
		gen = generator.NewStaticGenerator()
		logger.Warn("Using static generator")
	default:
		gen = generator.NewHTTPGenerator(cfg.GeneratorURL, cfg.GeneratorAPIKey)
	}

	// Deployment backend
	var deployer wizard.Deployer
	switch cfg.Deployer {
	case config.DeployerNone:
		deployer = services.NewNopDeployer()
		logger.Warn("Deployment disabled; activation only records the server")
	default:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			logger.Fatalf("Failed to load AWS configuration: %v", err)
		}
		deployer = services.NewECRDeployer(awsCfg, cfg.AWSAccountID)
	}

	// Settled events
	var publisher events.Publisher = events.NewNopPublisher()
	if cfg.NATSURL != "" {
		natsPublisher, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			logger.Fatalf("Failed to connect to NATS: %v", err)
		}
		publisher = natsPublisher
		logger.WithField("url", cfg.NATSURL).Info("Publishing settled events to NATS")
	}

	machine := wizard.NewMachine()
	runner := services.NewRunnerService(sessions, gen, machine, publisher, cfg.GenerationTimeout)

	jobQueue := queue.NewJobQueue(cfg.QueueSize)
	workerPool := queue.NewWorkerPool(jobQueue, cfg.WorkerCount)

	// Workers outlive the signal context so running tasks can settle during shutdown
	workCtx := context.WithoutCancel(ctx)
	workerPool.Start(func(job *queue.GenerationJob) error {
		return runner.Execute(workCtx, job)
	})
	logger.WithField("workers", cfg.WorkerCount).Info("Generation workers started")

	service := wizard.NewService(wizard.Dependencies{
		Sessions:   sessions,
		Machine:    machine,
		Scheduler:  jobQueue,
		Plans:      plans,
		Billing:    billing.NewLedgerGate(plans, cfg.CreditsPerActivation),
		Deployer:   deployer,
		Tokens:     services.NewTokenService(cfg.TokenSigningKey, 0),
		ServerURL:  cfg.ServerURL,
		CodeWait:   cfg.CodeWait,
		TaskExpiry: cfg.TaskExpiry,
	})

	opts := router.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimiter:    middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
	if cfg.Auth0Domain != "" {
		opts.Authenticator = middleware.AuthenticationWithAuth0(middleware.NewAuth0Config(cfg.Auth0Domain, cfg.Auth0Audience))
	} else {
		logger.Warn("AUTH0_DOMAIN not set; bearer tokens are not verified")
	}

	r := router.Setup(opts,
		handlers.NewHealthHandler(cfg.WorkerCount, runner),
		handlers.NewWizardHandler(service),
	)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("Starting server on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Jobs queued by a previous process were lost with it
	g.Go(func() error {
		requeued, expired, err := runner.Recover(gctx, jobQueue, cfg.TaskExpiry)
		if err != nil {
			logger.WithError(err).Error("Failed to recover processing sessions")
			return nil
		}
		logger.WithFields(map[string]interface{}{
			"requeued": requeued,
			"expired":  expired,
		}).Info("Recovered processing sessions")
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)

		// Stop accepting new jobs and let running tasks settle
		jobQueue.Close()
		workerPool.Wait()
		logger.Info("All workers stopped")

		if closeErr := publisher.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("Failed to close event publisher")
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Fatalf("Server stopped with error: %v", err)
	}
	logger.Info("Server stopped")
}
