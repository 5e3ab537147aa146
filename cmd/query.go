package cmd

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/agentic-research/hiercache/internal/hierarchy"
	"github.com/agentic-research/hiercache/internal/idvtab"
	"github.com/agentic-research/hiercache/internal/scene"
)

func newQueryCmd(e *env) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "query SQL",
		Short: "Run SQL against the registered nodes (table: ids)",
		Long: `Materialize the hierarchy down to --depth, then run SQL against the
virtual table ids(id, path, parent, row, child_count).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, closeSrc, err := e.openSource()
			if err != nil {
				return err
			}
			defer func() { _ = closeSrc() }()
			c, err := e.newCache(src)
			if err != nil {
				return err
			}
			root, err := c.Root()
			if err != nil {
				return err
			}
			if err := c.Walk(root, depth, func(hierarchy.Proxy, scene.Path, int) error { return nil }); err != nil {
				return err
			}

			mod, err := idvtab.Register()
			if err != nil {
				return err
			}
			const source = "cli"
			mod.RegisterSource(source, func() ([]idvtab.Row, error) { return idvtab.Snapshot(c.Table()) })
			defer mod.UnregisterSource(source)

			db, err := sql.Open("sqlite", ":memory:")
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			db.SetMaxOpenConns(1)
			if _, err := db.Exec(`CREATE VIRTUAL TABLE ids USING ` + idvtab.ModuleName + `(` + source + `)`); err != nil {
				return fmt.Errorf("create ids table: %w", err)
			}
			return printRows(cmd, db, args[0])
		},
	}
	cmd.Flags().IntVarP(&depth, "depth", "d", -1, "Materialize this many levels below the root (negative for all)")
	return cmd
}

func printRows(cmd *cobra.Command, db *sql.DB, query string) error {
	rows, err := db.Query(query)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, strings.Join(cols, "\t"))
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		cells := make([]string, len(vals))
		for i, v := range vals {
			cells[i] = fmt.Sprint(v)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	return rows.Err()
}
