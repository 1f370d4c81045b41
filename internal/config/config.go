package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Session store backends
const (
	StoreDynamoDB = "dynamodb"
	StoreMemory   = "memory"
)

// Generator backends
const (
	GeneratorHTTP   = "http"
	GeneratorStatic = "static"
)

// Deployer backends
const (
	DeployerECR  = "ecr"
	DeployerNone = "none"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Port           string
	AllowedOrigins []string

	// Logging configuration
	LogLevel string

	// AWS configuration
	AWSRegion    string
	AWSAccountID string

	// Session store configuration
	SessionStore          string
	DynamoDBSessionsTable string

	// Background generation configuration
	WorkerCount       int
	QueueSize         int
	GenerationTimeout time.Duration
	TaskExpiry        time.Duration
	CodeWait          time.Duration
	Generator         string
	GeneratorURL      string
	GeneratorAPIKey   string

	// Plans and billing
	PlansFile            string
	DefaultMaxTools      int
	CreditsPerActivation int

	// Activation
	Deployer          string
	TokenSigningKey   string
	ServerURLTemplate string

	// Events
	NATSURL string

	// Rate limiting of mutating endpoints, per user
	RateLimitRPS   float64
	RateLimitBurst int

	// Auth0 configuration (optional)
	Auth0Domain   string
	Auth0Audience string
}

// New creates a new Config instance by loading environment variables
// from .env file (if present) and OS environment.
// OS environment variables take precedence over .env file values.
// Panics if required configuration values are missing or invalid.
func New() *Config {
	envPath := filepath.Join(".", ".env")
	_ = godotenv.Load(envPath)

	cfg := &Config{
		Port:           getEnvOrDefault("PORT", "3001"),
		AllowedOrigins: splitList(getEnvOrDefault("ALLOWED_ORIGINS", "*")),

		LogLevel: getEnvOrDefault("LOG_LEVEL", "INFO"),

		AWSRegion:    getEnvOrDefault("AWS_REGION", "us-east-1"),
		AWSAccountID: os.Getenv("AWS_ACCOUNT_ID"),

		SessionStore:          getEnvOrDefault("SESSION_STORE", StoreDynamoDB),
		DynamoDBSessionsTable: getEnvOrDefault("DYNAMODB_SESSIONS_TABLE", "WizardSessions"),

		WorkerCount:       getIntOrDefault("WORKER_COUNT", 5),
		QueueSize:         getIntOrDefault("QUEUE_SIZE", 100),
		GenerationTimeout: getDurationOrDefault("GENERATION_TIMEOUT", 5*time.Minute),
		TaskExpiry:        getDurationOrDefault("TASK_EXPIRY", 15*time.Minute),
		CodeWait:          getDurationOrDefault("CODE_WAIT", 20*time.Second),
		Generator:         getEnvOrDefault("GENERATOR", GeneratorHTTP),
		GeneratorURL:      os.Getenv("GENERATOR_URL"),
		GeneratorAPIKey:   os.Getenv("GENERATOR_API_KEY"),

		PlansFile:            os.Getenv("PLANS_FILE"),
		DefaultMaxTools:      getIntOrDefault("DEFAULT_MAX_TOOLS", 3),
		CreditsPerActivation: getIntOrDefault("CREDITS_PER_ACTIVATION", 1),

		Deployer:          getEnvOrDefault("DEPLOYER", DeployerECR),
		TokenSigningKey:   os.Getenv("TOKEN_SIGNING_KEY"),
		ServerURLTemplate: getEnvOrDefault("SERVER_URL_TEMPLATE", "https://%s.mcp.mhive.dev/mcp"),

		NATSURL: os.Getenv("NATS_URL"),

		RateLimitRPS:   getFloatOrDefault("RATE_LIMIT_RPS", 2),
		RateLimitBurst: getIntOrDefault("RATE_LIMIT_BURST", 5),

		Auth0Domain:   os.Getenv("AUTH0_DOMAIN"),
		Auth0Audience: os.Getenv("AUTH0_AUDIENCE"),
	}

	cfg.validate()

	return cfg
}

// validate checks that all required configuration values are present and valid
func (c *Config) validate() {
	var missing []string

	if c.TokenSigningKey == "" {
		missing = append(missing, "TOKEN_SIGNING_KEY")
	}
	if c.Generator == GeneratorHTTP && c.GeneratorURL == "" {
		missing = append(missing, "GENERATOR_URL")
	}
	if c.Deployer == DeployerECR && c.AWSAccountID == "" {
		missing = append(missing, "AWS_ACCOUNT_ID")
	}

	if len(missing) > 0 {
		panic(fmt.Sprintf("Missing required configuration values: %v", missing))
	}

	if len(c.TokenSigningKey) < 32 {
		panic(fmt.Sprintf("TOKEN_SIGNING_KEY must be at least 32 characters (got %d)", len(c.TokenSigningKey)))
	}

	if c.AWSAccountID != "" && (len(c.AWSAccountID) != 12 || !isNumeric(c.AWSAccountID)) {
		panic(fmt.Sprintf("AWS_ACCOUNT_ID must be exactly 12 digits (got '%s')", c.AWSAccountID))
	}

	switch c.SessionStore {
	case StoreDynamoDB, StoreMemory:
	default:
		panic(fmt.Sprintf("SESSION_STORE must be %q or %q (got '%s')", StoreDynamoDB, StoreMemory, c.SessionStore))
	}

	switch c.Generator {
	case GeneratorHTTP, GeneratorStatic:
	default:
		panic(fmt.Sprintf("GENERATOR must be %q or %q (got '%s')", GeneratorHTTP, GeneratorStatic, c.Generator))
	}

	switch c.Deployer {
	case DeployerECR, DeployerNone:
	default:
		panic(fmt.Sprintf("DEPLOYER must be %q or %q (got '%s')", DeployerECR, DeployerNone, c.Deployer))
	}

	if c.WorkerCount < 1 {
		panic(fmt.Sprintf("WORKER_COUNT must be positive (got %d)", c.WorkerCount))
	}
	// Queue wait counts toward expiry, so it needs headroom over the runner deadline
	if c.TaskExpiry <= c.GenerationTimeout {
		panic(fmt.Sprintf("TASK_EXPIRY must be longer than GENERATION_TIMEOUT (got %s <= %s)", c.TaskExpiry, c.GenerationTimeout))
	}
	if c.DefaultMaxTools < 1 {
		panic(fmt.Sprintf("DEFAULT_MAX_TOOLS must be positive (got %d)", c.DefaultMaxTools))
	}
	if !strings.Contains(c.ServerURLTemplate, "%s") {
		panic("SERVER_URL_TEMPLATE must contain a %s placeholder for the server id")
	}
}

// isNumeric checks if a string contains only numeric characters
func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		panic(fmt.Sprintf("%s must be an integer (got '%s')", key, value))
	}
	return n
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		panic(fmt.Sprintf("%s must be a number (got '%s')", key, value))
	}
	return f
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("%s must be a duration like 90s or 5m (got '%s')", key, value))
	}
	return d
}

// splitList splits a comma separated value, dropping blanks
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ServerURL returns the public endpoint of a deployed server
func (c *Config) ServerURL(serverId string) string {
	return fmt.Sprintf(c.ServerURLTemplate, serverId)
}
