package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"

	"github.com/agentic-research/hiercache/internal/filter"
	"github.com/agentic-research/hiercache/internal/hierarchy"
	"github.com/agentic-research/hiercache/internal/scene"
)

var (
	matchStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#04B575"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

func newTreeCmd(e *env) *cobra.Command {
	var (
		substring string
		depth     int
		showFlags bool
	)
	cmd := &cobra.Command{
		Use:   "tree [path]",
		Short: "Print the prim hierarchy, materializing rows as it goes",
		Args:  cobra.MaximumNArgs(1),
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
			start := c.RootPath()
			if len(args) == 1 {
				start = scene.Clean(args[0])
			}
			p, err := c.Materialize(start)
			if err != nil {
				return err
			}

			rows := filter.NewRowFilter(filter.New(filter.Options{
				CaseInsensitive: e.cfg.Filter.CaseInsensitive,
			}))
			rows.ShowInactive, rows.ShowUndefined, rows.ShowAbstract = true, true, true
			if substring != "" {
				if err := rows.SetPathContains(src, start, substring); err != nil {
					return err
				}
			}
			hl := highlighter{substring: substring, fold: e.cfg.Filter.CaseInsensitive}
			return printTree(cmd.OutOrStdout(), c, p, depth, rows, hl, showFlags)
		},
	}
	cmd.Flags().StringVarP(&substring, "filter", "f", "", "Only show prims whose display name contains this, and their ancestors")
	cmd.Flags().IntVarP(&depth, "depth", "d", -1, "Maximum depth below the start path (negative for unlimited)")
	cmd.Flags().BoolVar(&showFlags, "flags", false, "Print each prim's state flags")
	return cmd
}

func printTree(w io.Writer, c *hierarchy.Cache, start hierarchy.Proxy, depth int, rows *filter.RowFilter, hl highlighter, showFlags bool) error {
	return c.Walk(start, depth, func(p hierarchy.Proxy, path scene.Path, level int) error {
		n, err := c.Node(p)
		if err != nil {
			return err
		}
		if !rows.Accepts(n) {
			return hierarchy.SkipChildren
		}
		name := n.DisplayName()
		if path.IsRoot() {
			name = "/"
		}
		line := strings.Repeat("  ", level) + hl.render(name)
		if showFlags {
			line += " " + mutedStyle.Render("["+n.Flags().String()+"]")
		}
		_, err = fmt.Fprintln(w, line)
		return err
	})
}

// highlighter styles the first occurrence of substring in a name.
type highlighter struct {
	substring string
	fold      bool
}

func (h highlighter) render(name string) string {
	if h.substring == "" {
		return name
	}
	idx := strings.Index(name, h.substring)
	if idx < 0 && h.fold {
		// folding can change byte lengths; fall back to styling the whole name
		f := cases.Fold()
		if strings.Contains(f.String(name), f.String(h.substring)) {
			return matchStyle.Render(name)
		}
	}
	if idx < 0 {
		return name
	}
	end := idx + len(h.substring)
	return name[:idx] + matchStyle.Render(name[idx:end]) + name[end:]
}
