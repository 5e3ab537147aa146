package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/hiercache/internal/scene"
)

func newExportCmd(e *env) *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "export OUT.db",
		Short: "Write the scene's prims to a SQLite database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := args[0]
			if _, err := os.Stat(out); err == nil {
				if !overwrite {
					return fmt.Errorf("%s exists (use --overwrite)", out)
				}
				if err := os.Remove(out); err != nil {
					return err
				}
			}
			st, err := e.openStage()
			if err != nil {
				return err
			}
			start := time.Now()
			n, err := scene.ExportSQLite(st, out)
			if err != nil {
				return err
			}
			log := e.logger()
			log.Debug().Dur("took", time.Since(start)).Msg("export")
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d prims to %s.\n", n, out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing database")
	return cmd
}
