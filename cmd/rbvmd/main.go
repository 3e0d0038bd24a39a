package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fantom-ide/rbvmd/internal/api"
	"github.com/fantom-ide/rbvmd/internal/config"
	"github.com/fantom-ide/rbvmd/internal/docker"
	"github.com/fantom-ide/rbvmd/internal/ident"
	"github.com/fantom-ide/rbvmd/internal/pipeline"
	"github.com/fantom-ide/rbvmd/internal/pool"
	"github.com/fantom-ide/rbvmd/internal/proc"
	"github.com/fantom-ide/rbvmd/internal/reaper"
	"github.com/fantom-ide/rbvmd/internal/scratch"
	"github.com/fantom-ide/rbvmd/internal/session"
	"github.com/fantom-ide/rbvmd/internal/store"
)

func main() {
	cfgPath := flag.String("config", "", "path to rbvmd.yaml or rbvmd.toml")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	st, err := store.New(cfg.DBPath, 0)
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	sc, err := scratch.NewManager(cfg.ScratchDir)
	if err != nil {
		logger.Error("scratch dir", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var launcher proc.Launcher = proc.LocalLauncher{}
	if cfg.Executor == "docker" {
		dl, err := docker.New(docker.Options{
			Container: cfg.Docker.Container,
			HostRoot:  sc.Root(),
			WorkRoot:  cfg.Docker.Workdir,
		}, logger)
		if err != nil {
			logger.Error("docker client", "error", err)
			os.Exit(1)
		}
		defer dl.Close()

		if err := dl.Ping(ctx); err != nil {
			logger.Error("docker ping failed, is the toolchain container running?", "container", cfg.Docker.Container, "error", err)
			os.Exit(1)
		}
		logger.Info("docker connection OK", "container", cfg.Docker.Container)
		launcher = dl
	}

	runner := proc.NewRunner(launcher, proc.Options{
		Timeout:        cfg.JobTimeout(),
		MaxOutputBytes: int(cfg.MaxOutputBytes()),
	}, logger)
	slots := pool.New(cfg.MaxConcurrentJobs, logger)

	sessions := session.NewManager(cfg, session.NewRegistry(), st, sc, logger)

	pl := pipeline.New(cfg, pipeline.Deps{
		Runner:   runner,
		Sessions: sessions,
		Scratch:  sc,
		Slots:    slots,
		Jobs:     st,
		IDs:      ident.New(),
	}, logger)

	rpr := reaper.New(st, sessions, sc, cfg.Session.ReapInterval(), cfg.Session.IdleTTL(), logger)
	rpr.Reconcile(ctx)
	go rpr.Run(ctx)

	srv := api.NewServer(cfg, pl, sessions, st, slots, logger)

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.JobTimeout()*3 + time.Minute, // a compile runs three stages
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		if err := sessions.CloseAll(shutdownCtx); err != nil {
			logger.Warn("terminate sessions", "error", err)
		}
	}()

	logger.Info("listening", "addr", cfg.Listen, "executor", cfg.Executor, "slots", cfg.MaxConcurrentJobs)
	fmt.Fprintf(os.Stderr, "\n  rbvmd ready at http://%s\n\n", cfg.Listen)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
