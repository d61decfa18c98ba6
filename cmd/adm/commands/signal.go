package commands

import (
	contextutils "skillmodel/internal/utils"

	"github.com/spf13/cobra"
)

// SignalCommands returns the signal commands
func SignalCommands(env *Env) *cobra.Command {
	signalCmd := &cobra.Command{
		Use:   "signal",
		Short: "Proficiency signal commands",
		Long: `Proficiency signal commands.

Available commands:
  show    - Print the stored signal for a user
  refresh - Recompute the signal from the user's proficiency records`,
	}

	var showUser, refreshUser int

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the stored signal for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if showUser <= 0 {
				return contextutils.WrapError(contextutils.ErrInvalidInput, "--user must be positive")
			}
			svc, err := env.Services(ctx)
			if err != nil {
				return err
			}
			signals, err := svc.GetSignalService()
			if err != nil {
				return err
			}
			signal, err := signals.GetSignal(ctx, showUser)
			if err != nil {
				return contextutils.WrapErrorf(err, "no signal for user %d", showUser)
			}
			return printJSON(cmd.OutOrStdout(), signal)
		},
	}
	show.Flags().IntVar(&showUser, "user", 0, "User ID")
	_ = show.MarkFlagRequired("user")

	refresh := &cobra.Command{
		Use:   "refresh",
		Short: "Recompute the signal for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if refreshUser <= 0 {
				return contextutils.WrapError(contextutils.ErrInvalidInput, "--user must be positive")
			}
			svc, err := env.Services(ctx)
			if err != nil {
				return err
			}
			signals, err := svc.GetSignalService()
			if err != nil {
				return err
			}
			signal, err := signals.RefreshSignal(ctx, refreshUser)
			if err != nil {
				return contextutils.WrapErrorf(err, "failed to refresh signal for user %d", refreshUser)
			}
			return printJSON(cmd.OutOrStdout(), signal)
		},
	}
	refresh.Flags().IntVar(&refreshUser, "user", 0, "User ID")
	_ = refresh.MarkFlagRequired("user")

	signalCmd.AddCommand(show, refresh)
	return signalCmd
}
