package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ArkLabsHQ/lnswap/internal/config"
	"github.com/ArkLabsHQ/lnswap/internal/core/application"
	"github.com/ArkLabsHQ/lnswap/internal/infrastructure/db"
	scheduler "github.com/ArkLabsHQ/lnswap/internal/infrastructure/scheduler/gocron"
	"github.com/ArkLabsHQ/lnswap/internal/interface/web"
	"github.com/ArkLabsHQ/lnswap/pkg/boltz"
	log "github.com/sirupsen/logrus"
)

// nolint:all
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	log.SetLevel(log.Level(cfg.LogLevel))

	log.Info("starting lnswapd...")

	var dbLogger any
	if log.GetLevel() >= log.DebugLevel {
		dbLogger = log.WithField("component", "badger")
	}
	swapRepo, err := db.NewSwapRepository(db.ServiceConfig{
		DbType:   "badger",
		DbConfig: []any{cfg.Datadir, dbLogger},
	})
	if err != nil {
		log.WithError(err).Fatal("failed to open db")
	}

	buildInfo := application.BuildInfo{
		Version: version,
		Commit:  commit,
		Date:    date,
	}

	api := &boltz.Api{URL: cfg.BoltzURL, WSURL: cfg.BoltzWSURL}
	appSvc, err := application.NewService(buildInfo, cfg, api, swapRepo, scheduler.NewScheduler())
	if err != nil {
		log.WithError(err).Fatal("failed to init application service")
	}

	if err := appSvc.Start(context.Background()); err != nil {
		log.WithError(err).Fatal("failed to start application service")
	}

	server := web.NewServer(appSvc, cfg.HTTPPort, version)
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Stop(ctx); err != nil {
			log.WithError(err).Warn("failed to stop http server")
		}
		appSvc.Stop()
	}
	log.RegisterExitHandler(stop)

	log.Info("starting service...")
	if err := server.Start(); err != nil {
		log.Fatal(err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Info("shutting down service...")
	log.Exit(0)
}
