package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/imyashkale/mcpwizard/internal/models"
	"github.com/imyashkale/mcpwizard/internal/poller"
	"github.com/imyashkale/mcpwizard/internal/wizard"
	"github.com/spf13/cobra"
)

var startDetails string

var startCmd = &cobra.Command{
	Use:   "start [description]",
	Short: "Start a new wizard run from a plain-language description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		resp, err := cli.client.Start(ctx, args[0], startDetails)
		if err != nil {
			return err
		}

		cli.tracker.Started(ctx, resp.ServerId, args[0])
		fmt.Printf("Started %s\n", resp.ServerId)
		return watch(ctx, resp.ServerId)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [server_id]",
	Short: "Show the current state of a wizard run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := cli.client.GetState(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printSession(state)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List wizard runs on the server and the ones waiting locally",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sessions, err := cli.client.List(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("%-38s %-10s %-11s %s\n", "SERVER", "STEP", "STATUS", "DESCRIPTION")
		for _, s := range sessions {
			fmt.Printf("%-38s %-10s %-11s %s\n", s.ServerId, s.Step, s.ProcessingStatus, s.Description)
		}

		pending := cli.tracker.Pending(ctx)
		if len(pending) > 0 {
			fmt.Printf("\n%d run(s) can be resumed:\n", len(pending))
			for _, e := range pending {
				fmt.Printf("  %s  started %s  %s\n", e.ServerId, e.StartedAt.Local().Format(time.RFC822), e.Description)
			}
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [server_id]",
	Short: "Wait for a run's background work to finish",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		detach = false
		return watch(cmd.Context(), args[0])
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume [server_id]",
	Short: "Pick up a run started earlier on this machine",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var serverId string
		if len(args) == 1 {
			serverId = args[0]
		} else {
			pending := cli.tracker.Pending(ctx)
			switch len(pending) {
			case 0:
				fmt.Println("Nothing to resume")
				return nil
			case 1:
				serverId = pending[0].ServerId
			default:
				fmt.Println("Several runs can be resumed, pick one:")
				for _, e := range pending {
					fmt.Printf("  wizardctl resume %s   # %s\n", e.ServerId, e.Description)
				}
				return nil
			}
		}

		state, err := cli.client.GetState(ctx, serverId)
		if errors.Is(err, wizard.ErrNotFound) {
			cli.tracker.Forget(ctx, serverId)
			return fmt.Errorf("server %s no longer exists", serverId)
		}
		if err != nil {
			return err
		}

		printSession(state)
		detach = false
		return watch(ctx, serverId)
	},
}

// watch polls serverId until it settles, printing what becomes ready.
// It fails when the background task failed so scripts can react.
func watch(ctx context.Context, serverId string) error {
	if detach {
		fmt.Printf("Running in the background. Follow with: wizardctl watch %s\n", serverId)
		return nil
	}

	handlers := cli.tracker.Handlers(ctx, serverId, poller.Handlers{
		OnToolsReady: func(s *models.WizardSessionResponse) {
			fmt.Println("Tool suggestions are ready:")
			printTools(s)
		},
		OnEnvVarsReady: func(s *models.WizardSessionResponse) {
			fmt.Println("Environment variable suggestions are ready:")
			printEnvVars(s.EnvVars)
		},
		OnError: func(message string) {
			fmt.Fprintf(os.Stderr, "Background task failed: %s\nRetry with: wizardctl retry %s\n", message, serverId)
		},
		OnNetworkError: func(err error) {
			fmt.Fprintf(os.Stderr, "Connection problem, still trying: %v\n", err)
		},
	})

	coordinator := poller.New(cli.client, handlers)
	if err := coordinator.Watch(ctx, serverId); err != nil {
		return err
	}
	if last := coordinator.Last(); last != nil && last.ProcessingStatus == models.StatusFailed {
		return fmt.Errorf("background task failed for %s", serverId)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&detach, "detach", false, "Return as soon as background work is scheduled")
	startCmd.Flags().StringVar(&startDetails, "details", "", "Technical details such as API docs or auth scheme")

	rootCmd.AddCommand(startCmd, statusCmd, listCmd, watchCmd, resumeCmd)
}
