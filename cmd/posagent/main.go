// Package main runs the workstation agent: the durable local store, the
// connectivity monitor and sync engine, the offline request router, the
// print agent, and the local HTTP API the terminal software talks to.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/griffd12/cloud-pos-sub004/internal/cloud"
	"github.com/griffd12/cloud-pos-sub004/internal/config"
	"github.com/griffd12/cloud-pos-sub004/internal/httpapi"
	"github.com/griffd12/cloud-pos-sub004/internal/observability"
	"github.com/griffd12/cloud-pos-sub004/internal/print"
	"github.com/griffd12/cloud-pos-sub004/internal/router"
	"github.com/griffd12/cloud-pos-sub004/internal/store"
	possync "github.com/griffd12/cloud-pos-sub004/internal/sync"
)

// version is stamped by the build pipeline via -ldflags.
var version = "dev"

// printQueueInterval is the local print-queue drain cadence.
const printQueueInterval = 5 * time.Second

func main() {
	// Best effort: a missing .env file is the normal production case.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	setupLogging(cfg)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	st, err := store.Open(cfg.Store, cfg.OTEL.Enabled)
	if err != nil {
		log.Fatal().Err(err).Msg("local store unavailable")
	}

	logger := log.Logger
	cloudClient := cloud.New(cfg.Cloud.BaseURL, cfg.Cloud.EnterpriseID, cfg.Cloud.WorkstationID, logger)

	state := &possync.State{}
	engine := possync.NewEngine(st, cloudClient, cfg.Cloud.EnterpriseID, cfg.Cloud.RequestTimeout, cfg.Cloud.PushBatchSize, logger)
	monitor := possync.NewMonitor(cloudClient, state, engine, cfg.Cloud.ProbeInterval, cfg.Cloud.ProbeTimeout, logger)

	offline := router.New(st, cfg.Cloud.EnterpriseID, cfg.Cloud.WorkstationID, cfg.Store.IdempotencyTTL, logger)

	printAgent := print.NewAgent(cfg.Print, st, logger)
	printQueue := print.NewQueueWorker(cfg.Print, st, logger)

	// Background workers share the signal-bound context.
	go monitor.Run(ctx)
	go engine.RunPushLoop(ctx, cfg.Cloud.PushInterval, state.Online)
	go engine.RunPullLoop(ctx, cfg.Cloud.PullInterval, state.Online)
	go printAgent.Run(ctx)
	go printQueue.Run(ctx, printQueueInterval)
	go purgeIdempotency(ctx, st, cfg.Store.IdempotencyPurgeEvery, logger)
	go logTransitions(ctx, state.Subscribe(), logger)

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		Store:      st,
		Cloud:      cloudClient,
		Offline:    offline,
		Online:     state.Online,
		PrintState: func() string { return printAgent.State().String() },
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("agent listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	if err := st.Close(); err != nil {
		log.Warn().Err(err).Msg("store close failed")
	}
	if err := otelShutdown(shutCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown failed")
	}
}

// setupLogging configures the global zerolog logger from config.
func setupLogging(cfg config.Config) {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", strings.ToLower(cfg.OTEL.ServiceName)).Logger()
}

// purgeIdempotency deletes expired idempotency records on a timer.
func purgeIdempotency(ctx context.Context, st store.Store, every time.Duration, lg zerolog.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := st.PurgeExpiredIdempotencyKeys(ctx, time.Now().UTC())
			if err != nil {
				lg.Warn().Err(err).Msg("idempotency purge failed")
			} else if n > 0 {
				lg.Debug().Int64("purged", n).Msg("idempotency records expired")
			}
		}
	}
}

// logTransitions records online/offline flips for the terminal's benefit.
func logTransitions(ctx context.Context, events <-chan possync.Event, lg zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			lg.Info().Bool("online", ev.Online).Time("at", ev.At).Msg("connectivity changed")
		}
	}
}
