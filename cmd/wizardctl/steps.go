package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/imyashkale/mcpwizard/internal/models"
	"github.com/spf13/cobra"
)

var (
	refineKeep []string
	codeOut    string
)

var toolsCmd = &cobra.Command{
	Use:   "tools [server_id] [tool_id...]",
	Short: "Select tools and move on to environment variables",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		state, err := cli.client.SubmitTools(ctx, args[0], args[1:])
		if err != nil {
			return err
		}
		fmt.Printf("Selected %d tool(s), now at %s\n", len(state.SelectedToolIds), state.Step)
		return watch(ctx, args[0])
	},
}

var refineToolsCmd = &cobra.Command{
	Use:   "refine-tools [server_id] [feedback]",
	Short: "Ask for new tool suggestions",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if _, err := cli.client.RefineTools(ctx, args[0], args[1], refineKeep); err != nil {
			return err
		}
		return watch(ctx, args[0])
	},
}

var envCmd = &cobra.Command{
	Use:   "env [server_id] [ENV_VAR_ID=VALUE...]",
	Short: "Set environment variable values and move on to deployment",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := parseAssignments(args[1:])
		if err != nil {
			return err
		}

		state, err := cli.client.SubmitEnvVars(cmd.Context(), args[0], values)
		if err != nil {
			return err
		}
		for _, key := range sortedKeys(values) {
			fmt.Printf("Set %s\n", key)
		}
		fmt.Printf("Now at %s. Generate code with: wizardctl code %s\n", state.Step, state.ServerId)
		return nil
	},
}

var refineEnvCmd = &cobra.Command{
	Use:   "refine-env [server_id] [feedback]",
	Short: "Ask for new environment variable suggestions",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if _, err := cli.client.RefineEnvVars(ctx, args[0], args[1]); err != nil {
			return err
		}
		return watch(ctx, args[0])
	},
}

var codeCmd = &cobra.Command{
	Use:   "code [server_id]",
	Short: "Generate the server code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		serverId := args[0]

		code, state, err := cli.client.GenerateCode(ctx, serverId)
		if err != nil {
			return err
		}
		if code == nil {
			if detach {
				return watch(ctx, serverId)
			}
			if err := watch(ctx, serverId); err != nil {
				return err
			}
			if code, state, err = cli.client.GenerateCode(ctx, serverId); err != nil {
				return err
			}
			if code == nil {
				return fmt.Errorf("code for %s is not ready yet (%s)", serverId, state.ProcessingStatus)
			}
		}

		if codeOut == "" {
			fmt.Printf("Generated %d file(s), entrypoint %s:\n", len(code.Files), code.Entrypoint)
			for _, name := range fileNames(code) {
				fmt.Printf("  %s\n", name)
			}
			return nil
		}
		return writeCode(codeOut, code)
	},
}

var activateCmd = &cobra.Command{
	Use:   "activate [server_id]",
	Short: "Deploy the generated server and issue its bearer token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		resp, err := cli.client.Activate(ctx, args[0])
		if err != nil {
			return err
		}
		cli.tracker.Forget(ctx, args[0])

		fmt.Printf("Server URL:   %s\n", resp.ServerURL)
		fmt.Printf("Bearer token: %s\n", resp.BearerToken)
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry [server_id]",
	Short: "Re-run the background task that failed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		state, err := cli.client.Retry(ctx, args[0])
		if err != nil {
			return err
		}
		cli.tracker.Started(ctx, state.ServerId, state.Description)
		return watch(ctx, args[0])
	},
}

func fileNames(code *models.GeneratedCode) []string {
	names := make([]string, 0, len(code.Files))
	for name := range code.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// writeCode writes the generated files under dir. Paths that would escape
// dir are rejected.
func writeCode(dir string, code *models.GeneratedCode) error {
	for _, name := range fileNames(code) {
		if !filepath.IsLocal(name) {
			return fmt.Errorf("refusing to write %q outside %s", name, dir)
		}
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, []byte(code.Files[name]), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	fmt.Printf("Wrote %d file(s) to %s\n", len(code.Files), dir)
	return nil
}

func init() {
	refineToolsCmd.Flags().StringSliceVar(&refineKeep, "keep", nil, "Tool ids to keep in the new suggestions")
	codeCmd.Flags().StringVarP(&codeOut, "out", "o", "", "Write the generated files to this directory")

	rootCmd.AddCommand(toolsCmd, refineToolsCmd, envCmd, refineEnvCmd, codeCmd, activateCmd, retryCmd)
}
