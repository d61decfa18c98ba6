package commands

import (
	"fmt"
	"strings"

	"skillmodel/internal/taxonomy"

	"github.com/spf13/cobra"
)

// TaxonomyCommands returns the taxonomy commands. Neither needs a database.
func TaxonomyCommands(env *Env) *cobra.Command {
	taxCmd := &cobra.Command{
		Use:   "taxonomy",
		Short: "Taxonomy document commands",
		Long: `Taxonomy document commands.

Available commands:
  validate FILE  - Check a taxonomy document against the schema
  show [FILE]    - Print the metric to node mapping (defaults to the configured path)`,
	}

	taxCmd.AddCommand(&cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a taxonomy document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := taxonomy.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (version %s, %d metrics, %d nodes)\n",
				args[0], m.Version(), len(m.Metrics()), m.NodeCount())
			return nil
		},
	})

	taxCmd.AddCommand(&cobra.Command{
		Use:   "show [FILE]",
		Short: "Print the metric to node mapping",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := env.Config.Taxonomy.Path
			if len(args) == 1 {
				path = args[0]
			}
			m, err := taxonomy.Load(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version %s\n", m.Version())
			for _, metric := range m.Metrics() {
				fmt.Fprintf(out, "%-30s %s\n", metric.ID, strings.Join(m.NodesForMetric(metric.ID), ", "))
			}
			return nil
		},
	})

	return taxCmd
}
