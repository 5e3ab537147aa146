package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentic-research/hiercache/internal/filter"
	"github.com/agentic-research/hiercache/internal/hierarchy"
	"github.com/agentic-research/hiercache/internal/scene"
)

const replayHelp = `Replay a mutation script against the scene and report how the cache follows.

Script lines (blank lines and lines starting with # are ignored):

  define PATH [FLAGS]         add a prim; FLAGS like active,defined,loaded
  insert PATH ROW [FLAGS]     add a prim at a child position
  remove PATH                 remove a prim and its subtree
  flags PATH FLAGS            replace a prim's state flags
  reorder PARENT NAME...      reorder a prim's children
  select PATH SET [VARIANT]   set or clear a variant selection
  begin / end                 open or close a change block
  expand PATH                 materialize PATH and track its row
  tree [PATH] [DEPTH]         print the hierarchy
  stats                       print cache statistics
  dump                        print the id table`

func newReplayCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "replay SCRIPT",
		Short: "Replay a mutation script against the scene",
		Long:  replayHelp,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			st, err := e.openStage()
			if err != nil {
				return err
			}
			r, err := newReplayer(e, st, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer r.close()
			return r.run(f)
		},
	}
}

// replayer drives a stage from a script. Notifications reach the cache
// through a Listener; held rows are reported as they move.
type replayer struct {
	e     *env
	st    *scene.Stage
	out   io.Writer
	cache *hierarchy.Cache
	held  []hierarchy.Proxy
	l     *hierarchy.Listener
}

func newReplayer(e *env, st *scene.Stage, out io.Writer) (*replayer, error) {
	c, err := e.newCache(st)
	if err != nil {
		return nil, err
	}
	r := &replayer{e: e, st: st, out: out, cache: c}
	r.l = hierarchy.Listen(st, r, hierarchy.OnError(func(paths []scene.Path, err error) {
		fmt.Fprintf(r.out, "resync %v: %v\n", paths, err)
	}))
	return r, nil
}

func (r *replayer) close() { r.l.Close() }

// ResyncSubtrees implements hierarchy.Resyncer.
func (r *replayer) ResyncSubtrees(paths []scene.Path) error {
	fmt.Fprintf(r.out, "resync %v\n", paths)
	changes, err := r.cache.ResyncAndRemap(paths, r.held)
	if err != nil {
		if !hierarchy.NeedsReset(err) {
			return err
		}
		fmt.Fprintf(r.out, "reset: %v\n", err)
		c, nerr := r.e.newCache(r.st)
		if nerr != nil {
			return nerr
		}
		r.cache, r.held = c, nil
		return nil
	}
	held := r.held[:0]
	for _, p := range r.held {
		if !r.cache.Expired(p) {
			held = append(held, p)
		}
	}
	r.held = held
	for _, ch := range changes {
		if ch.Removed {
			fmt.Fprintf(r.out, "  removed %s (row %d)\n", ch.Path, ch.OldRow)
			continue
		}
		fmt.Fprintf(r.out, "  moved %s %d -> %d\n", ch.Path, ch.OldRow, ch.NewRow)
	}
	return nil
}

func (r *replayer) run(in io.Reader) error {
	sc := bufio.NewScanner(in)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if err := r.exec(strings.Fields(text)); err != nil {
			return fmt.Errorf("line %d: %s: %w", line, text, err)
		}
	}
	return sc.Err()
}

func (r *replayer) exec(f []string) error {
	arg := func(i int) string {
		if i < len(f) {
			return f[i]
		}
		return ""
	}
	need := func(n int) error {
		if len(f) < n+1 {
			return fmt.Errorf("%s: want %d argument(s)", f[0], n)
		}
		return nil
	}

	switch f[0] {
	case "define", "insert":
		if err := need(1); err != nil {
			return err
		}
		path := scene.Clean(f[1])
		at, flagArg := -1, arg(2)
		if f[0] == "insert" {
			if err := need(2); err != nil {
				return err
			}
			n, err := strconv.Atoi(f[2])
			if err != nil {
				return err
			}
			at, flagArg = n, arg(3)
		}
		flags := scene.DefaultFlags
		if flagArg != "" {
			var err error
			if flags, err = parseFlags(flagArg); err != nil {
				return err
			}
		}
		_, err := r.st.InsertPrim(path.Parent(), path.Name(), at, scene.PrimSpec{Flags: flags})
		return err
	case "remove":
		if err := need(1); err != nil {
			return err
		}
		return r.st.RemovePrim(scene.Clean(f[1]))
	case "flags":
		if err := need(2); err != nil {
			return err
		}
		flags, err := parseFlags(f[2])
		if err != nil {
			return err
		}
		return r.st.SetFlags(scene.Clean(f[1]), flags)
	case "reorder":
		if err := need(1); err != nil {
			return err
		}
		return r.st.ReorderChildren(scene.Clean(f[1]), f[2:])
	case "select":
		if err := need(2); err != nil {
			return err
		}
		return r.st.SetVariantSelection(scene.Clean(f[1]), f[2], arg(3))
	case "begin":
		r.st.Begin()
		return nil
	case "end":
		r.st.End()
		return nil
	case "expand":
		if err := need(1); err != nil {
			return err
		}
		p, err := r.cache.Materialize(scene.Clean(f[1]))
		if err != nil {
			return err
		}
		row, err := r.cache.Row(p)
		if err != nil {
			return err
		}
		r.held = append(r.held, p)
		fmt.Fprintf(r.out, "expanded %s row %d\n", scene.Clean(f[1]), row)
		return nil
	case "tree":
		start := r.cache.RootPath()
		if a := arg(1); a != "" {
			start = scene.Clean(a)
		}
		depth := -1
		if a := arg(2); a != "" {
			n, err := strconv.Atoi(a)
			if err != nil {
				return err
			}
			depth = n
		}
		p, err := r.cache.Materialize(start)
		if err != nil {
			return err
		}
		rows := filter.NewRowFilter(filter.New(filter.Options{}))
		rows.ShowInactive, rows.ShowUndefined, rows.ShowAbstract = true, true, true
		return printTree(r.out, r.cache, p, depth, rows, highlighter{}, false)
	case "stats":
		s := r.cache.Stats()
		fmt.Fprintf(r.out, "registered=%d last_id=%d proxies=%d desynced=%v\n", s.Registered, s.LastID, s.Proxies, s.Desynced)
		return nil
	case "dump":
		return r.cache.Table().Dump(r.out)
	}
	return fmt.Errorf("unknown command %q", f[0])
}

var flagNames = map[string]scene.Flags{
	"active":   scene.FlagActive,
	"defined":  scene.FlagDefined,
	"abstract": scene.FlagAbstract,
	"loaded":   scene.FlagLoaded,
	"model":    scene.FlagModel,
	"instance": scene.FlagInstance,
}

// parseFlags reads a comma-separated flag list as printed by scene.Flags.
func parseFlags(s string) (scene.Flags, error) {
	var out scene.Flags
	if s == "none" {
		return 0, nil
	}
	for _, name := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '|' }) {
		bit, ok := flagNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown flag %q", name)
		}
		out |= bit
	}
	return out, nil
}
