package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func setRequired(t *testing.T) {
	t.Setenv("TOKEN_SIGNING_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("GENERATOR_URL", "http://generator.local")
	t.Setenv("AWS_ACCOUNT_ID", "123456789012")
}

func TestNew_Defaults(t *testing.T) {
	setRequired(t)

	cfg := New()

	assert.Equal(t, "3001", cfg.Port)
	assert.Equal(t, StoreDynamoDB, cfg.SessionStore)
	assert.Equal(t, 5, cfg.WorkerCount)
	assert.Equal(t, 5*time.Minute, cfg.GenerationTimeout)
	assert.Equal(t, 15*time.Minute, cfg.TaskExpiry)
	assert.Equal(t, 3, cfg.DefaultMaxTools)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, "https://abc.mcp.mhive.dev/mcp", cfg.ServerURL("abc"))
}

func TestNew_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SESSION_STORE", StoreMemory)
	t.Setenv("GENERATION_TIMEOUT", "90s")
	t.Setenv("TASK_EXPIRY", "5m")
	t.Setenv("WORKER_COUNT", "2")
	t.Setenv("ALLOWED_ORIGINS", "https://a.dev, https://b.dev")

	cfg := New()

	assert.Equal(t, StoreMemory, cfg.SessionStore)
	assert.Equal(t, 90*time.Second, cfg.GenerationTimeout)
	assert.Equal(t, 5*time.Minute, cfg.TaskExpiry)
	assert.Equal(t, 2, cfg.WorkerCount)
	assert.Equal(t, []string{"https://a.dev", "https://b.dev"}, cfg.AllowedOrigins)
}

func TestNew_StaticGeneratorNeedsNoURL(t *testing.T) {
	t.Setenv("TOKEN_SIGNING_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("GENERATOR", GeneratorStatic)
	t.Setenv("GENERATOR_URL", "")
	t.Setenv("DEPLOYER", DeployerNone)
	t.Setenv("AWS_ACCOUNT_ID", "")

	cfg := New()

	assert.Equal(t, GeneratorStatic, cfg.Generator)
	assert.Equal(t, DeployerNone, cfg.Deployer)
}

func TestNew_InvalidPanics(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "Short signing key", key: "TOKEN_SIGNING_KEY", val: "short"},
		{name: "Bad account id", key: "AWS_ACCOUNT_ID", val: "12ab"},
		{name: "Unknown store", key: "SESSION_STORE", val: "postgres"},
		{name: "Unknown generator", key: "GENERATOR", val: "openai"},
		{name: "Bad duration", key: "GENERATION_TIMEOUT", val: "soon"},
		{name: "Zero workers", key: "WORKER_COUNT", val: "0"},
		{name: "Expiry within generation timeout", key: "TASK_EXPIRY", val: "5m"},
		{name: "Template without placeholder", key: "SERVER_URL_TEMPLATE", val: "https://fixed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.val)
			assert.Panics(t, func() { New() })
		})
	}
}
