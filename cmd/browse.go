package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentic-research/hiercache/internal/layers"
	"github.com/agentic-research/hiercache/internal/scene"
	"github.com/agentic-research/hiercache/internal/variants"
)

func newLayersCmd(e *env) *cobra.Command {
	var noSession bool
	cmd := &cobra.Command{
		Use:   "layers",
		Short: "Print the scene's layer stack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := e.openStage()
			if err != nil {
				return err
			}
			tree, err := layers.Build(st, !noSession)
			if err != nil {
				return err
			}
			return printLayers(cmd.OutOrStdout(), tree, "", 0)
		},
	}
	cmd.Flags().BoolVar(&noSession, "no-session", false, "Leave out the session layer")
	return cmd
}

func printLayers(w io.Writer, tree *layers.Tree, key string, level int) error {
	items, err := tree.Children(key)
	if err != nil {
		return err
	}
	for _, it := range items {
		name := it.Name()
		if it.Session {
			name += " " + mutedStyle.Render("(session)")
		}
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", level), name)
		if err := printLayers(w, tree, it.Key(), level+1); err != nil {
			return err
		}
	}
	return nil
}

func newVariantsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "variants PATH",
		Short: "Print a prim's variant choices, marking the current selections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := e.openStage()
			if err != nil {
				return err
			}
			tree, err := variants.NewTree(st, scene.Clean(args[0]))
			if err != nil {
				return err
			}
			return printVariants(cmd.OutOrStdout(), st, tree, "", 0)
		},
	}
}

// printVariants descends only into selected choices; unselected ones stay
// unfetched.
func printVariants(w io.Writer, src variants.Source, tree *variants.Tree, key string, level int) error {
	items, err := tree.Children(key)
	if err != nil {
		return err
	}
	for _, it := range items {
		if it.IsClear() {
			continue
		}
		mark := "  "
		selected := it.Selected(src)
		if selected {
			mark = matchStyle.Render("* ")
		}
		fmt.Fprintf(w, "%s%s%s\n", strings.Repeat("  ", level), mark, it.Name())
		if selected {
			if err := printVariants(w, src, tree, it.Key(), level+1); err != nil {
				return err
			}
		}
	}
	return nil
}
