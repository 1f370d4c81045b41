package generator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/imyashkale/mcpwizard/internal/models"
	"gopkg.in/yaml.v2"
)

// ConfigFile is the manifest every generated server carries
const ConfigFile = "mhive.config.yaml"

// ServerConfig is the content of ConfigFile
type ServerConfig struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Runtime     string   `yaml:"runtime"`
	Entrypoint  string   `yaml:"entrypoint"`
	Tools       []string `yaml:"tools"`
	Env         []string `yaml:"env,omitempty"`
}

// StaticGenerator returns deterministic output derived from the task input.
// It backs local development and tests.
type StaticGenerator struct {
	now func() time.Time
}

// NewStaticGenerator creates a deterministic generator
func NewStaticGenerator() *StaticGenerator {
	return &StaticGenerator{now: time.Now}
}

// Generate produces output for kind without any I/O
func (g *StaticGenerator) Generate(ctx context.Context, kind models.TaskKind, input models.TaskInput) (models.TaskResult, error) {
	if err := ctx.Err(); err != nil {
		return models.TaskResult{}, err
	}

	switch kind {
	case models.KindSuggestTools:
		return models.TaskResult{Tools: suggestTools(input)}, nil
	case models.KindSuggestEnvVars:
		return models.TaskResult{EnvVars: suggestEnvVars(input)}, nil
	case models.KindGenerateCode:
		code, err := g.generateCode(input)
		if err != nil {
			return models.TaskResult{}, err
		}
		return models.TaskResult{GeneratedCode: code}, nil
	default:
		return models.TaskResult{}, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "wrap": true, "with": true,
	"from": true, "that": true, "our": true, "your": true, "build": true,
}

// subject picks the first meaningful word of the description as the resource name
func subject(input models.TaskInput) string {
	for _, word := range strings.Fields(strings.ToLower(input.Description)) {
		word = strings.Trim(word, ".,;:!?\"'()")
		if len(word) >= 3 && !stopWords[word] {
			return word
		}
	}
	return "resource"
}

func suggestTools(input models.TaskInput) []models.Tool {
	noun := subject(input)
	tools := []models.Tool{
		{Id: "tool_1", Name: "list_" + noun, Description: fmt.Sprintf("List %s records", noun)},
		{Id: "tool_2", Name: "get_" + noun, Description: fmt.Sprintf("Fetch one %s record by id", noun),
			Parameters: map[string]interface{}{"id": "string"}},
		{Id: "tool_3", Name: "create_" + noun, Description: fmt.Sprintf("Create a %s record", noun),
			Parameters: map[string]interface{}{"fields": "object"}},
		{Id: "tool_4", Name: "search_" + noun, Description: fmt.Sprintf("Search %s records", noun),
			Parameters: map[string]interface{}{"query": "string"}},
	}

	if input.Feedback != "" && len(input.ToolIds) > 0 {
		// Keep only the tools the feedback was about
		keep := make(map[string]bool, len(input.ToolIds))
		for _, id := range input.ToolIds {
			keep[id] = true
		}
		filtered := tools[:0]
		for _, t := range tools {
			if keep[t.Id] {
				t.Description = t.Description + " (" + input.Feedback + ")"
				filtered = append(filtered, t)
			}
		}
		tools = filtered
	}
	return tools
}

func suggestEnvVars(input models.TaskInput) []models.EnvVar {
	prefix := strings.ToUpper(subject(input))
	return []models.EnvVar{
		{Id: "env_1", Name: prefix + "_API_URL", Description: "Base URL of the upstream API"},
		{Id: "env_2", Name: prefix + "_API_KEY", Description: "Credential used to call the upstream API"},
	}
}

func (g *StaticGenerator) generateCode(input models.TaskInput) (*models.GeneratedCode, error) {
	names := make([]string, 0, len(input.SelectedTools))
	for _, t := range input.SelectedTools {
		names = append(names, t.Name)
	}
	env := make([]string, 0, len(input.EnvVars))
	for _, v := range input.EnvVars {
		env = append(env, v.Name)
	}
	sort.Strings(env)

	manifest, err := yaml.Marshal(ServerConfig{
		Name:        subject(input) + "-mcp",
		Description: input.Description,
		Runtime:     "go",
		Entrypoint:  "main.go",
		Tools:       names,
		Env:         env,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", ConfigFile, err)
	}

	var src strings.Builder
	src.WriteString("package main\n\n")
	src.WriteString("// Tools served by this MCP server\n")
	src.WriteString("var tools = []string{\n")
	for _, n := range names {
		fmt.Fprintf(&src, "\t%q,\n", n)
	}
	src.WriteString("}\n\nfunc main() {\n\tserve(tools)\n}\n")

	return &models.GeneratedCode{
		Files: map[string]string{
			ConfigFile:   string(manifest),
			"main.go":    src.String(),
			"Dockerfile": "FROM golang:1.25-alpine\nWORKDIR /app\nCOPY . .\nRUN go build -o server .\nCMD [\"./server\"]\n",
		},
		Entrypoint:  "main.go",
		GeneratedAt: g.now().UTC(),
	}, nil
}
