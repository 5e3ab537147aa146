// Package mcptools exposes read-only hierarchy tools over MCP.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/agentic-research/hiercache/api"
	"github.com/agentic-research/hiercache/internal/filter"
	"github.com/agentic-research/hiercache/internal/hierarchy"
	"github.com/agentic-research/hiercache/internal/scene"
	"github.com/agentic-research/hiercache/internal/variants"
)

// Options configures Register.
type Options struct {
	// CaseInsensitive is the default for the filter tool.
	CaseInsensitive bool
	Logger          *zerolog.Logger
}

type tools struct {
	guard *hierarchy.Guard
	opts  Options
}

// Register adds the children, filter and describe tools to s.
func Register(s *server.MCPServer, g *hierarchy.Guard, opts Options) {
	t := &tools{guard: g, opts: opts}
	s.AddTool(childrenTool(), t.children)
	s.AddTool(filterTool(), t.filter)
	s.AddTool(describeTool(), t.describe)
}

// --- children ---

func childrenTool() mcp.Tool {
	return mcp.NewTool("children",
		mcp.WithDescription("List the children of a prim in display order. Omit path to list the children of the cache root."),
		mcp.WithString("path",
			mcp.Description("Prim path, e.g. /World/Geom"),
		),
	)
}

func (t *tools) children(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var sb strings.Builder
	err := t.guard.With(func(c *hierarchy.Cache) error {
		p, err := proxyFor(c, req.GetString("path", ""))
		if err != nil {
			return err
		}
		n, err := c.ChildCount(p)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			child, err := c.Child(p, i)
			if err != nil {
				return err
			}
			node, err := c.Node(child)
			if err != nil {
				return err
			}
			fmt.Fprintf(&sb, "%d  %s  %s  [%s]\n", i, node.Path(), node.DisplayName(), node.Flags())
		}
		return nil
	})
	if err != nil {
		return toolError(err)
	}
	if sb.Len() == 0 {
		return mcp.NewToolResultText("No children."), nil
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// --- filter ---

func filterTool() mcp.Tool {
	return mcp.NewTool("filter",
		mcp.WithDescription("Find prims whose display name contains a substring. Returns every accepted path, including the ancestors of matches."),
		mcp.WithString("substring",
			mcp.Description("Text to look for in display names"),
			mcp.Required(),
		),
		mcp.WithString("path",
			mcp.Description("Prim to search under. Defaults to the cache root."),
		),
		mcp.WithBoolean("case_insensitive",
			mcp.Description("Compare after Unicode case folding"),
		),
	)
}

func (t *tools) filter(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	substring := req.GetString("substring", "")
	if substring == "" {
		return toolError(fmt.Errorf("substring is required"))
	}
	fc := filter.New(filter.Options{
		CaseInsensitive: req.GetBool("case_insensitive", t.opts.CaseInsensitive),
		Logger:          t.opts.Logger,
	})
	err := t.guard.With(func(c *hierarchy.Cache) error {
		root := c.RootPath()
		if p := req.GetString("path", ""); p != "" {
			root = scene.Clean(p)
		}
		return fc.ApplyFilter(c.Source(), root, substring, c.Predicate())
	})
	if err != nil {
		return toolError(err)
	}
	accepted := fc.Accepted()
	if len(accepted) == 0 {
		return mcp.NewToolResultText("No matches."), nil
	}
	var sb strings.Builder
	for _, p := range accepted {
		sb.WriteString(string(p))
		sb.WriteByte('\n')
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// --- describe ---

func describeTool() mcp.Tool {
	return mcp.NewTool("describe",
		mcp.WithDescription("Describe a prim: display name, state flags, row, child count and variant choices."),
		mcp.WithString("path",
			mcp.Description("Prim path"),
			mcp.Required(),
		),
	)
}

// Description is the JSON returned by the describe tool.
type Description struct {
	Path        scene.Path      `json:"path"`
	DisplayName string          `json:"display_name"`
	Flags       string          `json:"flags"`
	Row         int             `json:"row"`
	Children    int             `json:"children"`
	Variants    []VariantChoice `json:"variants,omitempty"`
}

type VariantChoice struct {
	Ref      string `json:"ref"`
	Selected bool   `json:"selected"`
}

func (t *tools) describe(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	if path == "" {
		return toolError(fmt.Errorf("path is required"))
	}
	var d Description
	err := t.guard.With(func(c *hierarchy.Cache) error {
		p, err := proxyFor(c, path)
		if err != nil {
			return err
		}
		n, err := c.Node(p)
		if err != nil {
			return err
		}
		if d.Row, err = c.Row(p); err != nil {
			return err
		}
		if d.Children, err = c.ChildCount(p); err != nil {
			return err
		}
		d.Path, d.DisplayName, d.Flags = n.Path(), n.DisplayName(), n.Flags().String()
		if vs, ok := c.Source().(variants.Source); ok {
			d.Variants, err = variantChoices(vs, n.Path())
		}
		return err
	})
	if err != nil {
		return toolError(err)
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// variantChoices lists the top-level choices of prim, skipping the clear
// choices.
func variantChoices(src variants.Source, prim scene.Path) ([]VariantChoice, error) {
	tree, err := variants.NewTree(src, prim)
	if err != nil {
		return nil, err
	}
	items, err := tree.Children("")
	if err != nil {
		return nil, err
	}
	var out []VariantChoice
	for _, it := range items {
		if it.IsClear() {
			continue
		}
		out = append(out, VariantChoice{Ref: api.String(it.Ref()), Selected: it.Selected(src)})
	}
	return out, nil
}

func proxyFor(c *hierarchy.Cache, path string) (hierarchy.Proxy, error) {
	if path == "" {
		return c.Root()
	}
	return c.Materialize(scene.Clean(path))
}

func toolError(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}
