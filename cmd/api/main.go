package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/moodtune/backend/internal/config"
	"github.com/zhouzirui/moodtune/backend/internal/handler"
	"github.com/zhouzirui/moodtune/backend/internal/handler/ws"
	"github.com/zhouzirui/moodtune/backend/internal/metrics"
	"github.com/zhouzirui/moodtune/backend/internal/service/chat"
	"github.com/zhouzirui/moodtune/backend/internal/service/conversation"
	"github.com/zhouzirui/moodtune/backend/internal/service/jobs"
	"github.com/zhouzirui/moodtune/backend/internal/service/judge"
	"github.com/zhouzirui/moodtune/backend/internal/service/music"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		envFile string
		addr    string
	)

	cmd := &cobra.Command{
		Use:          "moodtune",
		Short:        "Emotion-aware conversation and music generation backend",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), envFile, addr)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides PORT")

	return cmd
}

func run(parent context.Context, envFile, addr string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := loadEnv(envFile)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Warn("env file not loaded, using process environment only",
			zap.String("path", envFile), zap.Error(envErr))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	j, err := judge.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize judge: %w", err)
	}

	if cfg.Music.APIKey == "" {
		logger.Warn("SUNO_API is not set, music generation requests will be rejected upstream")
	}

	sessions := chat.NewService(m)
	conns := ws.NewConnectionManager(logger)
	supervisor := jobs.NewSupervisor(music.NewHTTPClient(cfg.Music), sessions, conns, jobs.ConfigFrom(cfg.Music), logger, m)
	turns := conversation.New(j, supervisor, conns, logger, m)

	router := handler.NewRouter(handler.Dependencies{
		Sessions: sessions,
		Jobs:     supervisor,
		Turns:    turns,
		Conns:    conns,
		Gatherer: reg,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("moodtune backend listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if jobErr := supervisor.Shutdown(shutdownCtx); jobErr != nil {
			logger.Warn("jobs did not stop in time", zap.Error(jobErr))
		}
		conns.CloseAll()
		return err
	})

	return g.Wait()
}

// loadEnv reads a dotenv file. A missing file is reported, not fatal.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	return godotenv.Load(path)
}
