package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/rviscarra/vidcap/internal/api"
	"github.com/rviscarra/vidcap/internal/config"
	"github.com/rviscarra/vidcap/internal/encoders"
	"github.com/rviscarra/vidcap/internal/observe"
	"github.com/rviscarra/vidcap/internal/rdisplay"
	"github.com/rviscarra/vidcap/internal/rtc"
	"github.com/rviscarra/vidcap/internal/session"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	httpPort := flag.String("http.port", "", "HTTP listen port (overrides server.listen_addr)")
	stunServer := flag.String("stun.server", "", "STUN server URL (stun:)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vidcap: %v\n", err)
		os.Exit(1)
	}
	if *httpPort != "" {
		cfg.Server.ListenAddr = ":" + *httpPort
	}
	if *stunServer != "" {
		cfg.Server.StunServer = *stunServer
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Server.LogLevel.SlogLevel()}))
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("agent stopped", "err", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: cfg.Telemetry.ServiceName})
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Warn("metrics shutdown", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	var display rdisplay.Service
	display, err = rdisplay.NewVideoProvider(log)
	if err != nil {
		log.Warn("screen capture unavailable", "err", err)
		display = nil
	} else if _, err := display.Screens(); err != nil {
		log.Warn("can't get screens", "err", err)
		display = nil
	}

	var library session.Library
	if cfg.Recording.LibraryDir != "" {
		library = session.DirLibrary{Dir: cfg.Recording.LibraryDir, Logger: log}
	}
	notifier := session.LogNotifier{Logger: log}
	sessions := session.NewManager(session.Deps{
		Encoders: encoders.NewEncoderService(),
		Metrics:  metrics,
		Logger:   log,
		Notifier: notifier,
		Library:  library,
	})

	hub := rtc.NewHub(log)
	preview := rtc.NewPreviewService(cfg.Server.StunServer, hub, metrics, log)

	handler := api.MakeHandler(api.Options{
		Sessions: sessions,
		Display:  display,
		Preview:  preview,
		Hub:      hub,
		Library:  library,
		Notifier: notifier,
		Defaults: cfg,
		Logger:   log,
	})
	defer handler.Close()

	mux := http.NewServeMux()
	mux.Handle("/api/", http.StripPrefix("/api", observe.Middleware(metrics)(handler)))
	mux.Handle("/metrics", observe.Handler())

	server := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
	errs := make(chan error, 1)
	go func() {
		log.Info("starting agent", "addr", cfg.Server.ListenAddr, "codecs", encoders.VideoCodecs())
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Info("shutting down")
	}

	// Abort before closing connections so in-flight requests see a settled session.
	handler.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
