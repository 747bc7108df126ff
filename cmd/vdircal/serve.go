package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"vdircal/internal/config"
	appLog "vdircal/internal/log"
	"vdircal/internal/refresh"
	"vdircal/internal/vdirsync"
	"vdircal/internal/web"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch the configured collections and serve the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config if set)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	appLog.Info("vdircal starting", "config_path", configPath)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"collections", len(cfg.Collections),
		"vdir_roots", len(cfg.VdirRoots),
		"watch_files", cfg.WatchFiles,
		"refresh", cfg.RefreshCron,
		"depth", cfg.FileWatcher.Depth,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fsys := afero.NewOsFs()
	load := func() (*config.Config, error) {
		c, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if listenAddr != "" {
			c.Listen = listenAddr
		}
		return c, nil
	}

	// The engine reads its settings through the refresher so a restart
	// always uses what the last refresh computed.
	var refresher *refresh.Refresher
	engine := vdirsync.NewEngine(func(ctx context.Context) (vdirsync.Settings, error) {
		return refresher.Settings(ctx)
	})

	srv := web.NewServer(cfg, engine)
	defer srv.Close()

	refresher = refresh.New(load, fsys, engine, srv.SetConfig)
	refresher.Prime(vdirsync.FromConfig(cfg, fsys))

	if err := engine.Init(ctx); err != nil {
		return err
	}
	defer engine.Stop()

	if err := refresher.Start(ctx, cfg.RefreshCron); err != nil {
		appLog.Error("periodic refresh not started", err)
	}
	defer refresher.Stop()

	if err := srv.ListenAndServe(ctx, cfg.Listen); err != nil {
		return err
	}

	appLog.Info("vdircal exiting")
	return nil
}
