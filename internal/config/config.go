// Package config loads the optional hiercache configuration file. Files
// ending in .json use HCL's JSON syntax; anything else is native HCL.
//
//	scene    = "stage.json"
//	root     = "/World"
//	max_id   = 100000
//	control  = "/tmp/hiercache.ctl"
//
//	predicate {
//	  show_inactive = true
//	}
//
//	filter {
//	  case_insensitive = true
//	}
//
//	log {
//	  level  = "debug"
//	  format = "json"
//	}
//
//	nfs {
//	  listen = "127.0.0.1:0"
//	  mount  = "/tmp/scene"
//	}
package config

import (
	"errors"
	"fmt"
	"math"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/agentic-research/hiercache/internal/scene"
)

type Config struct {
	Scene    string `hcl:"scene,optional"`
	Selector string `hcl:"selector,optional"`
	Root     string `hcl:"root,optional"`
	MaxID    int64  `hcl:"max_id,optional"`
	// Control is a memory-mapped file whose generation the servers bump on
	// every cache reset.
	Control string `hcl:"control,optional"`

	Predicate *PredicateConfig `hcl:"predicate,block"`
	Filter    *FilterConfig    `hcl:"filter,block"`
	Log       *LogConfig       `hcl:"log,block"`
	NFS       *NFSConfig       `hcl:"nfs,block"`
}

// PredicateConfig relaxes the default child predicate. With every field
// false the default (active, defined, loaded, non-abstract) applies.
type PredicateConfig struct {
	All           bool `hcl:"all,optional"`
	ShowInactive  bool `hcl:"show_inactive,optional"`
	ShowUndefined bool `hcl:"show_undefined,optional"`
	ShowAbstract  bool `hcl:"show_abstract,optional"`
	ShowUnloaded  bool `hcl:"show_unloaded,optional"`
}

type FilterConfig struct {
	CaseInsensitive bool `hcl:"case_insensitive,optional"`
}

type LogConfig struct {
	Level  string `hcl:"level,optional"`
	Format string `hcl:"format,optional"`
	File   string `hcl:"file,optional"`
}

type NFSConfig struct {
	Listen       string `hcl:"listen,optional"`
	Mount        string `hcl:"mount,optional"`
	HandleCache  int    `hcl:"handle_cache,optional"`
	MountOptions string `hcl:"mount_options,optional"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	c := Config{}
	c.fill()
	return c
}

// Load decodes the file at path over the defaults.
func Load(path string) (Config, error) {
	var c Config
	if err := hclsimple.DecodeFile(path, nil, &c); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	c.fill()
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes src as if read from filename; the extension picks the syntax.
func Parse(filename string, src []byte) (Config, error) {
	var c Config
	if err := hclsimple.Decode(filename, src, nil, &c); err != nil {
		return Config{}, err
	}
	c.fill()
	return c, c.Validate()
}

func (c *Config) fill() {
	if c.Selector == "" {
		c.Selector = scene.DefaultSelector
	}
	if c.Root == "" {
		c.Root = string(scene.RootPath)
	}
	if c.MaxID == 0 {
		c.MaxID = math.MaxUint32
	}
	if c.Predicate == nil {
		c.Predicate = &PredicateConfig{}
	}
	if c.Filter == nil {
		c.Filter = &FilterConfig{}
	}
	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.NFS == nil {
		c.NFS = &NFSConfig{}
	}
	if c.NFS.Listen == "" {
		c.NFS.Listen = "127.0.0.1:0"
	}
	if c.NFS.HandleCache == 0 {
		c.NFS.HandleCache = 1024
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.MaxID <= 1 || c.MaxID > math.MaxUint32 {
		errs = append(errs, fmt.Errorf("max_id %d out of range (2..%d)", c.MaxID, uint32(math.MaxUint32)))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log format %q: want console or json", c.Log.Format))
	}
	if c.NFS.HandleCache < 0 {
		errs = append(errs, fmt.Errorf("nfs handle_cache %d is negative", c.NFS.HandleCache))
	}
	return errors.Join(errs...)
}

// RootPath returns the configured cache root, normalized.
func (c Config) RootPath() scene.Path {
	return scene.Clean(c.Root)
}

// ChildPredicate builds the predicate described by the predicate block.
func (c Config) ChildPredicate() scene.Predicate {
	p := c.Predicate
	if p == nil {
		return scene.DefaultPredicate()
	}
	if p.All {
		return scene.AllPredicate()
	}
	require := scene.FlagActive | scene.FlagDefined | scene.FlagLoaded
	exclude := scene.FlagAbstract
	if p.ShowInactive {
		require &^= scene.FlagActive
	}
	if p.ShowUndefined {
		require &^= scene.FlagDefined
	}
	if p.ShowUnloaded {
		require &^= scene.FlagLoaded
	}
	if p.ShowAbstract {
		exclude = 0
	}
	return scene.Match(require, exclude)
}
