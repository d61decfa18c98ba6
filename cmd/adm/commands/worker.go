package commands

import (
	"fmt"

	contextutils "skillmodel/internal/utils"

	"github.com/spf13/cobra"
)

// WorkerCommands returns the worker control commands
func WorkerCommands(env *Env) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Worker control commands",
		Long: `Worker control commands. Pause state is stored in the database and picked up
by every worker instance on its next run.

Available commands:
  pause [--user N]  - Pause all analysis, or one user's
  resume [--user N] - Resume all analysis, or one user's
  status            - Print the health of every worker instance`,
	}

	workerCmd.AddCommand(pauseCmd(env, true), pauseCmd(env, false))

	workerCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print worker health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, err := env.Services(ctx)
			if err != nil {
				return err
			}
			workers, err := svc.GetWorkerService()
			if err != nil {
				return err
			}
			health, err := workers.GetWorkerHealth(ctx)
			if err != nil {
				return contextutils.WrapError(err, "failed to get worker health")
			}
			return printJSON(cmd.OutOrStdout(), health)
		},
	})

	return workerCmd
}

func pauseCmd(env *Env, paused bool) *cobra.Command {
	var userID int
	use, verb := "resume", "resumed"
	if paused {
		use, verb = "pause", "paused"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Mark analysis as %s globally or for one user", verb),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if cmd.Flags().Changed("user") && userID <= 0 {
				return contextutils.WrapError(contextutils.ErrInvalidInput, "--user must be positive")
			}
			svc, err := env.Services(ctx)
			if err != nil {
				return err
			}
			workers, err := svc.GetWorkerService()
			if err != nil {
				return err
			}

			if userID > 0 {
				if err := workers.SetUserPause(ctx, userID, paused); err != nil {
					return contextutils.WrapErrorf(err, "failed to update pause for user %d", userID)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %d %s\n", userID, verb)
				return nil
			}

			if err := workers.SetGlobalPause(ctx, paused); err != nil {
				return contextutils.WrapError(err, "failed to update global pause")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "worker %s globally\n", verb)
			return nil
		},
	}
	cmd.Flags().IntVar(&userID, "user", 0, "Only affect this user")
	return cmd
}
