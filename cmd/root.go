package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentic-research/hiercache/internal/config"
	"github.com/agentic-research/hiercache/internal/control"
	"github.com/agentic-research/hiercache/internal/hierarchy"
	"github.com/agentic-research/hiercache/internal/idtable"
	"github.com/agentic-research/hiercache/internal/logging"
	"github.com/agentic-research/hiercache/internal/scene"
)

// Version is stamped by the release build.
var Version = "dev"

// env is the state shared by every subcommand once the root command has
// resolved configuration and logging.
type env struct {
	cfg config.Config
	log *logging.Data
}

func (e *env) logger() zerolog.Logger {
	if e.log == nil {
		return zerolog.Nop()
	}
	return e.log.Logger
}

// NewRootCmd builds the hiercache command tree.
func NewRootCmd() *cobra.Command {
	e := &env{}
	var (
		configPath string
		flags      struct {
			scene, selector, root        string
			all, inactive, abstract, und bool
			caseInsensitive              bool
			maxID                        int64
			logLevel, logFormat, logFile string
			control                      string
		}
	)

	root := &cobra.Command{
		Use:           "hiercache",
		Short:         "Lazy hierarchy cache for scene graphs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				var err error
				if cfg, err = config.Load(configPath); err != nil {
					return err
				}
			}
			f := cmd.Flags()
			if f.Changed("scene") {
				cfg.Scene = flags.scene
			}
			if f.Changed("selector") {
				cfg.Selector = flags.selector
			}
			if f.Changed("root") {
				cfg.Root = flags.root
			}
			if f.Changed("max-id") {
				cfg.MaxID = flags.maxID
			}
			if f.Changed("all") {
				cfg.Predicate.All = flags.all
			}
			if f.Changed("show-inactive") {
				cfg.Predicate.ShowInactive = flags.inactive
			}
			if f.Changed("show-abstract") {
				cfg.Predicate.ShowAbstract = flags.abstract
			}
			if f.Changed("show-undefined") {
				cfg.Predicate.ShowUndefined = flags.und
			}
			if f.Changed("case-insensitive") {
				cfg.Filter.CaseInsensitive = flags.caseInsensitive
			}
			if f.Changed("control") {
				cfg.Control = flags.control
			}
			if f.Changed("log-level") {
				cfg.Log.Level = flags.logLevel
			}
			if f.Changed("log-format") {
				cfg.Log.Format = flags.logFormat
			}
			if f.Changed("log-file") {
				cfg.Log.File = flags.logFile
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			b := logging.New().Level(cfg.Log.Level).Format(cfg.Log.Format).FromWriter(cmd.ErrOrStderr())
			if cfg.Log.File != "" {
				b = b.FromPath(cfg.Log.File)
			}
			d, err := b.Make()
			if err != nil {
				return err
			}
			e.cfg, e.log = cfg, d
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if e.log == nil {
				return nil
			}
			return e.log.Close()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Path to an HCL or JSON config file")
	pf.StringVarP(&flags.scene, "scene", "s", "", "Scene document (.json) or prims database (.db)")
	pf.StringVar(&flags.selector, "selector", scene.DefaultSelector, "JSONPath of the prim tree in a scene document")
	pf.StringVarP(&flags.root, "root", "r", "/", "Prim path the cache is rooted at")
	pf.BoolVar(&flags.all, "all", false, "Show every prim regardless of state")
	pf.BoolVar(&flags.inactive, "show-inactive", false, "Show inactive prims")
	pf.BoolVar(&flags.abstract, "show-abstract", false, "Show abstract (class) prims")
	pf.BoolVar(&flags.und, "show-undefined", false, "Show prims without a defining specifier")
	pf.BoolVarP(&flags.caseInsensitive, "case-insensitive", "i", false, "Match filters after Unicode case folding")
	pf.Int64Var(&flags.maxID, "max-id", 0, "Upper bound on node ids")
	pf.StringVar(&flags.control, "control", "", "Control file whose generation is bumped on every cache reset")
	pf.StringVar(&flags.logLevel, "log-level", "info", "Log level")
	pf.StringVar(&flags.logFormat, "log-format", "console", "Log format: console or json")
	pf.StringVar(&flags.logFile, "log-file", "", "Append logs to this file")

	root.AddCommand(
		newTreeCmd(e),
		newReplayCmd(e),
		newExportCmd(e),
		newQueryCmd(e),
		newLayersCmd(e),
		newVariantsCmd(e),
		newServeNFSCmd(e),
		newServeMCPCmd(e),
	)
	root.Version = Version
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var errNoScene = errors.New("no scene: pass --scene or set scene in the config file")

// openSource opens the configured scene. JSON documents load into a mutable
// Stage; .db files open as a read-only SQLite source.
func (e *env) openSource() (scene.Source, func() error, error) {
	if e.cfg.Scene == "" {
		return nil, nil, errNoScene
	}
	if strings.EqualFold(filepath.Ext(e.cfg.Scene), ".db") {
		src, err := scene.OpenSQLite(e.cfg.Scene, scene.WithReadOnly(), scene.WithSourceLogger(e.logger()))
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	}
	st, err := e.openStage()
	if err != nil {
		return nil, nil, err
	}
	return st, func() error { return nil }, nil
}

// openStage loads the configured scene document into a Stage.
func (e *env) openStage() (*scene.Stage, error) {
	if e.cfg.Scene == "" {
		return nil, errNoScene
	}
	return scene.LoadJSONFile(e.cfg.Scene, e.cfg.Selector)
}

func (e *env) newCache(src scene.Source) (*hierarchy.Cache, error) {
	return hierarchy.New(src, e.cfg.RootPath(), e.cfg.ChildPredicate(),
		hierarchy.WithMaxID(idtable.ID(e.cfg.MaxID)),
		hierarchy.WithLogger(e.logger()),
	)
}

// newGuard wraps a cache over src that rebuilds itself after a failed
// resync. When src pushes notifications a listener feeds them in. With a
// control file configured, every rebuild bumps its generation. stop releases
// both.
func (e *env) newGuard(src scene.Source) (*hierarchy.Guard, func(), error) {
	log := e.logger()
	var ctl *control.Controller
	if e.cfg.Control != "" {
		var err error
		if ctl, err = control.OpenOrCreate(e.cfg.Control); err != nil {
			return nil, nil, err
		}
		if err := ctl.SetRoot(string(e.cfg.RootPath())); err != nil {
			_ = ctl.Close()
			return nil, nil, err
		}
	}
	factory := func() (*hierarchy.Cache, error) {
		c, err := e.newCache(src)
		if err == nil && ctl != nil {
			ctl.SetRegistered(c.Stats().Registered)
		}
		return c, err
	}
	g, err := hierarchy.NewGuard(factory,
		hierarchy.WithGuardLogger(log),
		hierarchy.OnReset(func(cause error) {
			ev := log.Info().Err(cause)
			if ctl != nil {
				ev = ev.Uint64("generation", ctl.Bump())
			}
			ev.Msg("hierarchy reset")
		}),
	)
	if err != nil {
		if ctl != nil {
			_ = ctl.Close()
		}
		return nil, nil, err
	}
	stop := func() {
		if ctl != nil {
			_ = ctl.Close()
		}
	}
	n, ok := src.(scene.Notifier)
	if !ok {
		return g, stop, nil
	}
	l := hierarchy.Listen(n, g, hierarchy.OnError(func(paths []scene.Path, err error) {
		log.Error().Err(err).Interface("paths", paths).Msg("resync failed")
	}))
	return g, func() {
		l.Close()
		stop()
	}, nil
}
