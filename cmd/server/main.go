package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/config"
	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/handler"
	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/pkg/googleauth"
	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/pkg/logger"
	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/server"
	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger.Init(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logger.Sync()

	authClient := googleauth.NewClient(googleauth.Config{
		TokenURL:            cfg.OAuth.TokenURL,
		ClientID:            cfg.OAuth.ClientID,
		ClientSecret:        cfg.OAuth.ClientSecret,
		CodeAssistEndpoints: cfg.OAuth.CodeAssistEndpoints,
	})

	stickyMode, err := service.ParseSchedulingMode(cfg.Scheduling.StickyMode)
	if err != nil {
		return err
	}
	sticky := service.StickySessionConfig{
		Mode:           stickyMode,
		MaxWaitSeconds: cfg.Scheduling.StickyMaxWaitSeconds,
	}

	current := service.NewCurrentAccountStore()
	manager := service.NewTokenManager(service.TokenManagerDeps{
		DataDir:   cfg.Data.Dir,
		OAuth:     authClient,
		Projects:  service.NewProjectResolver(authClient),
		Current:   current,
		Sticky:    &sticky,
		IOWorkers: cfg.Scheduling.IOWorkers,
	})

	count, err := manager.LoadAccounts()
	if err != nil {
		return err
	}
	if count == 0 {
		logger.L().Warn("no accounts loaded, token pool is empty",
			zap.String("data_dir", cfg.Data.Dir))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobs := startMaintenanceJobs(manager)
	defer func() { <-jobs.Stop().Done() }()

	router := server.New(handler.New(manager, current))
	logger.L().Info("server starting", zap.String("addr", cfg.Server.Addr))
	return server.Run(ctx, cfg.Server.Addr, router)
}

// startMaintenanceJobs schedules the periodic pool-health log line. Account
// reloads stay operator-driven (the reload endpoint) because a reload drops
// every session binding.
func startMaintenanceJobs(manager *service.TokenManager) *cron.Cron {
	c := cron.New()
	_, err := c.AddFunc("@every 10m", func() {
		metrics := manager.Scheduler().SnapshotMetrics()
		logger.L().Info("pool health",
			zap.Int("accounts", manager.Len()),
			zap.Int("sessions", manager.Sessions().Len()),
			zap.Int64("select_total", metrics.SelectTotal),
			zap.Int64("sticky_hit_total", metrics.StickyHitTotal),
			zap.Int64("wait_and_use_total", metrics.WaitAndUseTotal),
			zap.Int64("all_unavailable_total", metrics.AllUnavailableTotal))
	})
	if err != nil {
		logger.L().Warn("failed to schedule pool health job", zap.Error(err))
	}
	c.Start()
	return c
}
