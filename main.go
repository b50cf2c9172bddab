package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/egannguyen/go-kafka-social/internal/config"
	delivery "github.com/egannguyen/go-kafka-social/internal/delivery/http"
	"github.com/egannguyen/go-kafka-social/internal/projection"
	"github.com/egannguyen/go-kafka-social/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	setupLogging(cfg)

	// --- Storage ---
	st, err := openStores(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialise storage")
	}
	defer st.Close()

	// --- Bus ---
	b, err := openBus(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to the event bus")
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.WithError(err).Warn("Failed to close the event bus")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	var commands delivery.Commands

	// --- Write side ---
	if cfg.RunsCommands() {
		store := service.NewEventStore(st.events, b.pub, cfg.EventsTopic)
		commands = service.NewCommandService(store)

		relay := service.NewRelay(store, cfg.RelayInterval, 0)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := relay.Run(ctx); err != nil {
				log.WithError(err).Error("Publication relay stopped")
			}
		}()
	}

	// --- Projector ---
	if cfg.RunsProjector() {
		handler := projection.NewHandler(st.posts, st.comments, st.checkpoints)
		consumer := projection.NewConsumer(b.sub, cfg.EventsTopic, handler, projection.WithEventLog(st.events))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil {
				log.WithError(err).Error("Projection consumer stopped")
				cancel()
			}
		}()
	}

	// --- HTTP API ---
	server := delivery.NewServer(delivery.NewHandler(commands, st.posts))
	go func() {
		log.WithFields(log.Fields{"addr": cfg.HTTPAddr, "role": cfg.Role}).Info("🚀 HTTP server starting")
		if err := server.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown")
	}
	wg.Wait()
}

func setupLogging(cfg config.Config) {
	log.SetOutput(os.Stdout)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Warnf("Unknown LOG_LEVEL %q, using info", cfg.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
