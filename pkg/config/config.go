package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/runningwild/diskmark/pkg/engine"
	"gopkg.in/yaml.v3"
)

// DataDirName is the directory created under the location to hold test files.
const DataDirName = "diskmark-data"

// Config is the top-level configuration of a benchmark run.
type Config struct {
	Location string   `yaml:"location"`
	Profile  string   `yaml:"profile,omitempty"` // Named preset the settings start from
	Settings Settings `yaml:"settings"`          // Overrides applied on top of the profile
	Export   string   `yaml:"export,omitempty"`  // JSON export path
	Save     *bool    `yaml:"save,omitempty"`    // Record the run in history, default true
	Database string   `yaml:"database,omitempty"`
}

// Settings describe the workload. Zero values and nil pointers mean unset
// so that settings can be layered.
type Settings struct {
	Workload    string `yaml:"workload,omitempty" json:"workload,omitempty"` // "write", "read" or "read_write"
	Order       string `yaml:"order,omitempty" json:"order,omitempty"`       // "sequential" or "random"
	Blocks      int    `yaml:"blocks,omitempty" json:"blocks,omitempty"`     // Blocks per sample
	BlockSizeKB int    `yaml:"block_size_kb,omitempty" json:"block_size_kb,omitempty"`
	Samples     int    `yaml:"samples,omitempty" json:"samples,omitempty"`
	Threads     int    `yaml:"threads,omitempty" json:"threads,omitempty"`
	Engine      string `yaml:"engine,omitempty" json:"engine,omitempty"` // "buffered", "direct" or "uring"
	Direct      *bool  `yaml:"direct,omitempty" json:"direct,omitempty"`
	WriteSync   *bool  `yaml:"write_sync,omitempty" json:"write_sync,omitempty"`
	Alignment   int    `yaml:"alignment,omitempty" json:"alignment,omitempty"` // Buffer alignment in bytes, negative = natural
	MultiFile   *bool  `yaml:"multi_file,omitempty" json:"multi_file,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Location: ".",
		Profile:  DefaultProfile,
		Database: DefaultDatabasePath(),
	}
}

// DefaultDatabasePath is the history database under the user's home
// directory, or in the working directory when there is none.
func DefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "diskmark.db"
	}
	return filepath.Join(home, ".diskmark", "history.db")
}

// Load reads a YAML config on top of Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Location == "" {
		cfg.Location = "."
	}
	if cfg.Database == "" {
		cfg.Database = DefaultDatabasePath()
	}
	if _, err := cfg.Effective(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Write saves cfg as YAML.
func Write(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// SaveEnabled reports whether runs are recorded in history.
func (c *Config) SaveEnabled() bool {
	return c.Save == nil || *c.Save
}

// DataDir is the directory holding the test files.
func (c *Config) DataDir() string {
	return filepath.Join(c.Location, DataDirName)
}

// Apply layers the set fields of s over the configured settings.
func (c *Config) Apply(s Settings) {
	c.Settings = c.Settings.Merge(s)
}

// Effective returns the profile settings with the configured overrides
// applied.
func (c *Config) Effective() (Settings, error) {
	name := c.Profile
	if name == "" {
		name = DefaultProfile
	}
	p, ok := LookupProfile(name)
	if !ok {
		return Settings{}, fmt.Errorf("%w: unknown profile %q", engine.ErrInvalidParams, name)
	}
	return p.Settings.Merge(c.Settings), nil
}

// Params builds the engine parameters for a run whose first sample is seq.
func (c *Config) Params(seq uint32) (engine.Params, error) {
	s, err := c.Effective()
	if err != nil {
		return engine.Params{}, err
	}
	return s.Params(c.DataDir(), seq)
}

// Merge returns s with every set field of o layered on top.
func (s Settings) Merge(o Settings) Settings {
	if o.Workload != "" {
		s.Workload = o.Workload
	}
	if o.Order != "" {
		s.Order = o.Order
	}
	if o.Blocks != 0 {
		s.Blocks = o.Blocks
	}
	if o.BlockSizeKB != 0 {
		s.BlockSizeKB = o.BlockSizeKB
	}
	if o.Samples != 0 {
		s.Samples = o.Samples
	}
	if o.Threads != 0 {
		s.Threads = o.Threads
	}
	if o.Engine != "" {
		s.Engine = o.Engine
	}
	if o.Direct != nil {
		s.Direct = o.Direct
	}
	if o.WriteSync != nil {
		s.WriteSync = o.WriteSync
	}
	if o.Alignment != 0 {
		s.Alignment = o.Alignment
	}
	if o.MultiFile != nil {
		s.MultiFile = o.MultiFile
	}
	return s
}

// Params converts fully resolved settings into validated engine parameters.
func (s Settings) Params(dir string, seq uint32) (engine.Params, error) {
	var p engine.Params
	var err error
	if p.Workload, err = engine.ParseWorkload(s.Workload); err != nil {
		return p, fmt.Errorf("%w: %v", engine.ErrInvalidParams, err)
	}
	if p.Order, err = engine.ParseOrder(s.Order); err != nil {
		return p, fmt.Errorf("%w: %v", engine.ErrInvalidParams, err)
	}
	if p.Engine, err = engine.ParseEngine(s.Engine); err != nil {
		return p, fmt.Errorf("%w: %v", engine.ErrInvalidParams, err)
	}
	p.Dir = dir
	p.NumBlocks = s.Blocks
	p.BlockSize = s.BlockSizeKB * 1024
	p.NumSamples = s.Samples
	p.Workers = s.Threads
	p.Direct = IsSet(s.Direct)
	p.WriteSync = IsSet(s.WriteSync)
	p.SectorAlign = max(s.Alignment, 0)
	p.MultiFile = IsSet(s.MultiFile)
	p.SequenceBase = seq
	return p, p.Validate()
}

// FromParams reports the settings that reproduce p.
func FromParams(p engine.Params) Settings {
	return Settings{
		Workload:    engine.WorkloadName(p.Workload),
		Order:       engine.OrderName(p.Order),
		Blocks:      p.NumBlocks,
		BlockSizeKB: p.BlockSize / 1024,
		Samples:     p.NumSamples,
		Threads:     p.Workers,
		Engine:      engine.EngineName(p.Engine),
		Direct:      Bool(p.Direct),
		WriteSync:   Bool(p.WriteSync),
		Alignment:   p.SectorAlign,
		MultiFile:   Bool(p.MultiFile),
	}
}

// Pinned returns a copy of c whose explicit settings reproduce p without
// relying on a profile.
func (c *Config) Pinned(p engine.Params) *Config {
	out := *c
	out.Profile = ""
	out.Settings = FromParams(p)
	return &out
}

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// IsSet reports whether b is set and true.
func IsSet(b *bool) bool { return b != nil && *b }
