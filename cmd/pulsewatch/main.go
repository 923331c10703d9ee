package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HerbHall/pulsewatch/internal/config"
	"github.com/HerbHall/pulsewatch/internal/event"
	"github.com/HerbHall/pulsewatch/internal/pulse"
	"github.com/HerbHall/pulsewatch/internal/store"
	"github.com/HerbHall/pulsewatch/internal/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	v, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Pulsewatch starting", zap.String("version", version.Short()))
	if f := v.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded",
			zap.String("component", "config"),
			zap.String("source", f),
		)
	} else {
		logger.Warn("no configuration file found, using defaults",
			zap.String("component", "config"),
		)
	}

	var cfg pulse.Config
	if err := v.UnmarshalKey("pulse", &cfg); err != nil {
		logger.Fatal("invalid pulse configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storageCfg := config.Storage(v)
	storageCfg.AppVersion = version.Short()
	gw, err := store.Open(ctx, storageCfg, logger.Named("store"))
	if err != nil {
		logger.Fatal("failed to open storage", zap.Error(err))
	}

	bus := event.NewBus(logger.Named("event"))
	engine := pulse.New(cfg, gw, bus, logger.Named("pulse"))

	dispatcher := pulse.NewNotificationDispatcher(engine.Channels(), cfg, logger.Named("notify"))
	unsubscribe := dispatcher.Register(bus)
	defer unsubscribe()

	if err := engine.Start(ctx); err != nil {
		_ = gw.Close()
		logger.Fatal("failed to start pulse engine", zap.Error(err))
	}

	var metricsSrv *http.Server
	if addr := v.GetString("metrics.addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
		logger.Info("metrics endpoint ready", zap.String("addr", addr))
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")

	// Stop bounds itself by pulse.shutdown_grace; the extra margin covers closing the gateway.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+10*time.Second)
	defer cancel()

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}
	if err := engine.Stop(shutdownCtx); err != nil {
		logger.Error("pulse engine shutdown error", zap.Error(err))
	}
	logger.Info("Pulsewatch stopped")
}
