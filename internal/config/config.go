package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/afero"
	yamlv3 "gopkg.in/yaml.v3"

	appLog "vdircal/internal/log"
	"vdircal/internal/model"
	"vdircal/internal/vdir"
)

const (
	// EnvPrefix is the prefix for environment overrides. Nested keys use a
	// double underscore: VDIRCAL_FILE_WATCHER__DEPTH=1.
	EnvPrefix = "VDIRCAL_"

	DefaultListen        = "127.0.0.1:8080"
	DefaultRefreshCron   = "*/5 * * * *"
	DefaultIgnorePattern = `(^|[/\\])\..`

	// keyDelim separates nested keys inside koanf. Collection names are map
	// keys and may contain dots, so "." is not usable.
	keyDelim = "::"
)

// FileWatcherConfig tunes the per-collection filesystem watches.
type FileWatcherConfig struct {
	// IgnorePattern is a regular expression matched against paths relative
	// to the collection directory. Slash-delimited literals ("/.../") are
	// accepted.
	IgnorePattern string `koanf:"ignore_pattern" yaml:"ignore_pattern" json:"ignore_pattern"`
	// Depth is how many directory levels below the collection are watched.
	// vdir collections are flat, so the default is 0.
	Depth int `koanf:"depth" yaml:"depth" json:"depth"`
}

// LogConfig controls log verbosity and destination.
type LogConfig struct {
	Level string `koanf:"level" yaml:"level" json:"level"`
	// File, if set, enables rotated file logging instead of stderr.
	File string `koanf:"file" yaml:"file,omitempty" json:"file,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the read API.
	Listen string `koanf:"listen" yaml:"listen" json:"listen"`

	// Collections maps a collection name to its vdir directory.
	Collections map[string]string `koanf:"collections" yaml:"collections" json:"collections"`

	// VdirRoots are directories whose immediate subdirectories are scanned
	// for collections.
	VdirRoots []string `koanf:"vdir_roots" yaml:"vdir_roots" json:"vdir_roots"`

	// WatchFiles enables loading and watching the collections.
	WatchFiles bool `koanf:"watch_files" yaml:"watch_files" json:"watch_files"`

	// RefreshCron is a cron schedule (e.g. "*/5 * * * *") for re-reading the
	// config and rescanning roots. Empty disables periodic refresh.
	RefreshCron string `koanf:"refresh" yaml:"refresh" json:"refresh"`

	FileWatcher FileWatcherConfig `koanf:"file_watcher" yaml:"file_watcher" json:"file_watcher"`

	Log LogConfig `koanf:"log" yaml:"log" json:"log"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      DefaultListen,
		Collections: map[string]string{},
		VdirRoots:   []string{},
		WatchFiles:  true,
		RefreshCron: DefaultRefreshCron,
		FileWatcher: FileWatcherConfig{
			IgnorePattern: DefaultIgnorePattern,
			Depth:         0,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Collections == nil {
		c.Collections = map[string]string{}
	}
	if c.VdirRoots == nil {
		c.VdirRoots = []string{}
	}
	if strings.TrimSpace(c.FileWatcher.IgnorePattern) == "" {
		c.FileWatcher.IgnorePattern = DefaultIgnorePattern
	}
	if c.FileWatcher.Depth < 0 {
		c.FileWatcher.Depth = 0
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// CollectionConfigs returns the static collections (sorted by name) followed
// by the ones discovered under VdirRoots. A name that appears twice keeps
// its first entry.
func (c *Config) CollectionConfigs(fsys afero.Fs) []model.VdirCollectionConfig {
	names := make([]string, 0, len(c.Collections))
	for name := range c.Collections {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]model.VdirCollectionConfig, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		out = append(out, model.VdirCollectionConfig{
			Name:    name,
			Path:    c.Collections[name],
			Enabled: true,
		})
		seen[name] = true
	}

	for _, col := range vdir.ScanAllRoots(fsys, c.VdirRoots) {
		if seen[col.Name] {
			appLog.Warn("duplicate collection name; keeping first", "name", col.Name, "path", col.Path)
			continue
		}
		seen[col.Name] = true
		out = append(out, col)
	}
	return out
}

// Load loads configuration from the given YAML path.
//
// Sources, later ones winning:
//   - DefaultConfig
//   - the YAML file at path (created with defaults on first run)
//   - VDIRCAL_* environment variables
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	k := koanf.New(keyDelim)

	if err := k.Load(structs.Provider(*DefaultConfig(), "koanf"), nil); err != nil {
		appLog.Error("error loading config defaults", err)
		return nil, err
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		// First run: create default config file.
		appLog.Info("config file not found; writing defaults", "path", path)
		if err := Save(path, DefaultConfig()); err != nil {
			appLog.Error("failed to write default config", err, "path", path)
		}
	} else if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		appLog.Error("error loading config from YAML", err, "path", path)
		return nil, err
	} else {
		appLog.Info("loaded configuration from file", "path", path)
	}

	err := k.Load(env.Provider(keyDelim, env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(k, v string) (string, any) {
			k = strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
			k = strings.ReplaceAll(k, "__", keyDelim)
			return k, v
		},
	}), nil)
	if err != nil {
		appLog.Error("error loading config from envs", err)
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".vdircal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
