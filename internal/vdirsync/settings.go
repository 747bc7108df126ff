package vdirsync

import (
	"context"
	"regexp"
	"strings"

	"github.com/spf13/afero"

	"vdircal/internal/config"
	appLog "vdircal/internal/log"
	"vdircal/internal/model"
)

// Settings is everything one watch session needs. It is read once per Init
// and not changed while the session runs.
type Settings struct {
	Collections []model.VdirCollectionConfig
	// WatchFiles false means Init loads nothing and installs no watches.
	WatchFiles    bool
	IgnorePattern string
	Depth         int
}

// SettingsFunc obtains the settings for a new session. An error aborts Init.
type SettingsFunc func(ctx context.Context) (Settings, error)

// StaticSettings returns a SettingsFunc that always yields s.
func StaticSettings(s Settings) SettingsFunc {
	return func(context.Context) (Settings, error) {
		return s, nil
	}
}

// FromConfig converts a loaded config: static collections plus the ones
// discovered under the configured roots.
func FromConfig(cfg *config.Config, fsys afero.Fs) Settings {
	return Settings{
		Collections:   cfg.CollectionConfigs(fsys),
		WatchFiles:    cfg.WatchFiles,
		IgnorePattern: cfg.FileWatcher.IgnorePattern,
		Depth:         cfg.FileWatcher.Depth,
	}
}

// ConfigSettings reloads the config through load on every call.
func ConfigSettings(load func() (*config.Config, error), fsys afero.Fs) SettingsFunc {
	return func(context.Context) (Settings, error) {
		cfg, err := load()
		if err != nil {
			return Settings{}, err
		}
		return FromConfig(cfg, fsys), nil
	}
}

var defaultIgnore = regexp.MustCompile(config.DefaultIgnorePattern)

// compileIgnore compiles the ignore pattern. A "/.../" literal has its
// delimiters stripped; an empty or invalid pattern falls back to dotfiles.
func compileIgnore(pattern string) *regexp.Regexp {
	p := strings.TrimSpace(pattern)
	if len(p) >= 2 && strings.HasPrefix(p, "/") && strings.HasSuffix(p, "/") {
		p = p[1 : len(p)-1]
	}
	if p == "" {
		return defaultIgnore
	}
	re, err := regexp.Compile(p)
	if err != nil {
		appLog.Error("invalid file watcher ignore pattern; using default", err, "pattern", pattern)
		return defaultIgnore
	}
	return re
}
