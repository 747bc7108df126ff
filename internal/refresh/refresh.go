// Package refresh periodically re-reads the configuration, rescans the vdir
// roots and restarts the sync engine when the resulting settings changed.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"

	"vdircal/internal/config"
	appLog "vdircal/internal/log"
	"vdircal/internal/vdirsync"
)

// Restarter is the part of the engine a refresh drives.
type Restarter interface {
	Restart(ctx context.Context) error
}

// Refresher compares freshly computed settings against the ones last
// applied. Refresh calls are serialized.
type Refresher struct {
	load     func() (*config.Config, error)
	fs       afero.Fs
	engine   Restarter
	onConfig func(*config.Config)

	mu      sync.Mutex
	last    vdirsync.Settings
	applied bool

	cron *cron.Cron
}

// New creates a Refresher. onConfig, if non-nil, receives every config
// that led to a restart.
func New(load func() (*config.Config, error), fsys afero.Fs, engine Restarter, onConfig func(*config.Config)) *Refresher {
	return &Refresher{
		load:     load,
		fs:       fsys,
		engine:   engine,
		onConfig: onConfig,
	}
}

// Prime records the settings the engine was started with, so the first
// tick does not restart needlessly.
func (r *Refresher) Prime(s vdirsync.Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = s
	r.applied = true
}

// Settings is a vdirsync.SettingsFunc that hands the engine the settings
// last computed by Refresh, computing them on first use.
func (r *Refresher) Settings(context.Context) (vdirsync.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applied {
		return r.last, nil
	}
	cfg, err := r.load()
	if err != nil {
		return vdirsync.Settings{}, err
	}
	r.last = vdirsync.FromConfig(cfg, r.fs)
	r.applied = true
	return r.last, nil
}

// Refresh reloads the config and rescans the roots. It restarts the engine
// and reports true when the settings differ from the last applied ones.
func (r *Refresher) Refresh(ctx context.Context) (bool, error) {
	r.mu.Lock()
	cfg, err := r.load()
	if err != nil {
		r.mu.Unlock()
		return false, fmt.Errorf("refresh: load config: %w", err)
	}
	next := vdirsync.FromConfig(cfg, r.fs)
	if r.applied && reflect.DeepEqual(next, r.last) {
		r.mu.Unlock()
		appLog.Debug("refresh: settings unchanged")
		return false, nil
	}
	r.last = next
	r.applied = true
	r.mu.Unlock()

	appLog.Info("refresh: settings changed; restarting vdir sync", "collections", len(next.Collections))
	if r.onConfig != nil {
		r.onConfig(cfg)
	}
	if err := r.engine.Restart(ctx); err != nil {
		return true, fmt.Errorf("refresh: restart: %w", err)
	}
	return true, nil
}

// Start schedules Refresh on schedule (standard 5-field cron syntax). An empty
// schedule disables periodic refresh.
func (r *Refresher) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		appLog.Info("refresh: periodic refresh disabled")
		return nil
	}
	if r.cron != nil {
		return errors.New("refresh: already started")
	}

	// A tick that fires while the previous refresh is still restarting the
	// engine is skipped.
	c := cron.New(
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)
	_, err := c.AddFunc(schedule, func() {
		if _, err := r.Refresh(ctx); err != nil {
			appLog.Error("refresh failed", err)
		}
	})
	if err != nil {
		return fmt.Errorf("refresh: invalid schedule %q: %w", schedule, err)
	}
	r.cron = c
	c.Start()
	appLog.Info("refresh: scheduled", "cron", schedule)
	return nil
}

// Stop halts the schedule and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.cron = nil
}

// cronLogger routes cron's own logging to internal/log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
