package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/golang-jwt/jwt/v5"
	"github.com/imyashkale/mcpwizard/internal/client"
	"github.com/imyashkale/mcpwizard/internal/logger"
	"github.com/imyashkale/mcpwizard/internal/models"
	"github.com/imyashkale/mcpwizard/internal/registry"
	"github.com/imyashkale/mcpwizard/internal/tracker"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	apiURL       string
	apiToken     string
	scope        string
	registryPath string
	logLevel     string
	detach       bool
)

// app holds what every command needs once flags are parsed
type app struct {
	client  *client.Client
	tracker *tracker.Tracker
	close   func() error
}

var cli *app

var rootCmd = &cobra.Command{
	Use:           "wizardctl",
	Short:         "Drive the MCP server creation wizard",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger.InitCLI(logLevel)

		if apiToken == "" {
			return fmt.Errorf("an API token is required (--token or MCPWIZARD_TOKEN)")
		}
		if scope == "" {
			scope = scopeFromToken(apiToken)
		}

		store, closeStore := openRegistry(registryPath)
		cli = &app{
			client:  client.New(apiURL, apiToken),
			tracker: tracker.New(registry.New(store), scope),
			close:   closeStore,
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if cli != nil && cli.close != nil {
			return cli.close()
		}
		return nil
	},
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&apiURL, "url", envOr("MCPWIZARD_URL", "http://localhost:8080"), "Wizard API base URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("MCPWIZARD_TOKEN"), "Bearer token")
	rootCmd.PersistentFlags().StringVar(&scope, "org", os.Getenv("MCPWIZARD_ORG"), "Organization scope for the local registry (defaults to the token's org)")
	rootCmd.PersistentFlags().StringVar(&registryPath, "registry", os.Getenv("MCPWIZARD_REGISTRY"), "Local registry database (defaults to the user config directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envOr("LOG_LEVEL", "warn"), "Log level")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// openRegistry opens the SQLite registry, falling back to memory so the
// wizard keeps working when the file is unusable.
func openRegistry(path string) (registry.Store, func() error) {
	if path == "" {
		p, err := registry.DefaultPath()
		if err != nil {
			logger.WithError(err).Warn("Local registry disabled")
			return registry.NewMemoryStore(), nil
		}
		path = p
	}

	store, err := registry.OpenSQLiteStore(path)
	if err != nil {
		logger.WithError(err).WithField("path", path).Warn("Local registry disabled")
		return registry.NewMemoryStore(), nil
	}
	return store, store.Close
}

// scopeFromToken reads the organization claim without verifying the token.
// The server does the verification; the scope only partitions local state.
func scopeFromToken(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "default"
	}
	for _, key := range []string{"org_id", "sub"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v
		}
	}
	return "default"
}

func printSession(s *models.WizardSessionResponse) {
	fmt.Printf("Server:      %s\n", s.ServerId)
	fmt.Printf("Description: %s\n", s.Description)
	fmt.Printf("Step:        %s\n", s.Step)
	fmt.Printf("Status:      %s\n", s.ProcessingStatus)
	if s.ProcessingError != "" {
		fmt.Printf("Error:       %s\n", s.ProcessingError)
	}
	if len(s.Tools) > 0 {
		printTools(s)
	}
	if len(s.EnvVars) > 0 {
		printEnvVars(s.EnvVars)
	}
	if s.HasGeneratedCode {
		fmt.Println("Code:        generated")
	}
	if s.ServerURL != "" {
		fmt.Printf("URL:         %s\n", s.ServerURL)
	}
}

func printTools(s *models.WizardSessionResponse) {
	selected := make(map[string]bool, len(s.SelectedToolIds))
	for _, id := range s.SelectedToolIds {
		selected[id] = true
	}
	fmt.Println("Tools:")
	for _, t := range s.Tools {
		mark := " "
		if selected[t.Id] {
			mark = "x"
		}
		fmt.Printf("  [%s] %-24s %s\n", mark, t.Id, t.Description)
	}
}

func printEnvVars(envVars []models.EnvVar) {
	fmt.Println("Environment variables:")
	for _, e := range envVars {
		fmt.Printf("  %-24s %s\n", e.Id, e.Description)
	}
}

// parseAssignments turns KEY=VALUE arguments into a map
func parseAssignments(args []string) (map[string]string, error) {
	values := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", arg)
		}
		values[key] = value
	}
	return values, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
