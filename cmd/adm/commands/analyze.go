package commands

import (
	"context"
	"fmt"

	"skillmodel/internal/config"
	contextutils "skillmodel/internal/utils"

	"github.com/spf13/cobra"
)

// AnalyzeCommands returns the analyze command
func AnalyzeCommands(env *Env) *cobra.Command {
	var sessionID, userID, limit int
	var pending bool

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run the analysis pipeline for completed sessions",
		Long: `Run the analysis pipeline synchronously.

  adm analyze --session 42 --user 7   analyse one session and print the result
  adm analyze --pending --limit 20    analyse the oldest pending sessions`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), config.CLIAnalyzeTimeout)
			defer cancel()
			svc, err := env.Services(ctx)
			if err != nil {
				return err
			}
			analysis, err := svc.GetAnalysisService()
			if err != nil {
				return err
			}

			if !pending {
				if sessionID <= 0 || userID <= 0 {
					return contextutils.WrapError(contextutils.ErrInvalidInput, "--session and --user must be positive, or pass --pending")
				}
				result, err := analysis.AnalyzeSession(ctx, sessionID, userID)
				if err != nil {
					return contextutils.WrapErrorf(err, "analysis of session %d failed", sessionID)
				}
				return printJSON(cmd.OutOrStdout(), result)
			}

			sessions, err := svc.GetSessionService()
			if err != nil {
				return err
			}
			queue, err := sessions.ListPendingSessions(ctx, limit)
			if err != nil {
				return contextutils.WrapError(err, "failed to list pending sessions")
			}

			failed := 0
			for _, s := range queue {
				result, err := analysis.AnalyzeSession(ctx, s.SessionID, s.UserID)
				if err != nil {
					failed++
					env.Logger.Error(ctx, "Session analysis failed", err, map[string]interface{}{
						"session_id": s.SessionID,
						"user_id":    s.UserID,
					})
					fmt.Fprintf(cmd.OutOrStdout(), "session %d (user %d): error: %v\n", s.SessionID, s.UserID, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "session %d (user %d): %s, %d dimensions applied\n",
					s.SessionID, s.UserID, result.Status, result.DimensionsApplied)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d pending, %d failed\n", len(queue), failed)
			if failed > 0 {
				return contextutils.WrapErrorf(contextutils.ErrInternalError, "%d of %d sessions failed", failed, len(queue))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&sessionID, "session", 0, "Session ID to analyse")
	cmd.Flags().IntVar(&userID, "user", 0, "User the session belongs to")
	cmd.Flags().BoolVar(&pending, "pending", false, "Analyse pending sessions instead of a single one")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum pending sessions to analyse with --pending")
	cmd.MarkFlagsMutuallyExclusive("session", "pending")

	return cmd
}
