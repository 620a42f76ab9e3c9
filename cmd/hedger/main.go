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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"StraddleHedger/internal/chain"
	"StraddleHedger/internal/controller"
	"StraddleHedger/internal/exchange"
	"StraddleHedger/internal/fill"
	"StraddleHedger/internal/ingestion"
	"StraddleHedger/internal/observability"
	"StraddleHedger/internal/symbol"
)

// Config holds all application configuration, loaded from environment
// variables (with .env support for local runs).
type Config struct {
	// Chain gateway
	GatewayURL    string
	WriterAddress string

	// Exchange
	ExchangeURL    string
	ExchangeKey    string
	ExchangeSecret string

	// Market constants
	Asset      string
	SpotSymbol string

	// NATS
	NATSURL string

	// Misc
	MetricsAddr   string
	EventChanSize int
	HTTPTimeout   time.Duration
	AuditPath     string
}

func DefaultConfig() Config {
	return Config{
		GatewayURL:     envOrDefault("HEDGER_GATEWAY_URL", "http://localhost:8080"),
		WriterAddress:  os.Getenv("HEDGER_WRITER_ADDRESS"),
		ExchangeURL:    envOrDefault("HEDGER_EXCHANGE_URL", "https://api.bybit.com"),
		ExchangeKey:    os.Getenv("HEDGER_EXCHANGE_KEY"),
		ExchangeSecret: os.Getenv("HEDGER_EXCHANGE_SECRET"),
		Asset:          envOrDefault("HEDGER_ASSET", "ETH"),
		SpotSymbol:     envOrDefault("HEDGER_SPOT_SYMBOL", "ETHUSDT"),
		NATSURL:        envOrDefault("HEDGER_NATS_URL", "nats://localhost:4222"),
		MetricsAddr:    envOrDefault("HEDGER_METRICS_ADDR", ":9091"),
		EventChanSize:  envIntOrDefault("HEDGER_EVENT_CHAN_SIZE", 1024),
		HTTPTimeout:    time.Duration(envIntOrDefault("HEDGER_HTTP_TIMEOUT_MS", 10_000)) * time.Millisecond,
		AuditPath:      envOrDefault("HEDGER_AUDIT_PATH", "orderbook.json"),
	}
}

func main() {
	_ = godotenv.Load()
	log := observability.NewLogger("main")

	cfg := DefaultConfig()
	if cfg.WriterAddress == "" {
		log.Fatal().Msg("HEDGER_WRITER_ADDRESS is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Collaborator clients ---
	vault := chain.NewGatewayClient(cfg.GatewayURL, cfg.HTTPTimeout, observability.NewLogger("chain"))
	ex := exchange.NewHTTPClient(cfg.ExchangeURL, cfg.ExchangeKey, cfg.ExchangeSecret, cfg.HTTPTimeout, observability.NewLogger("exchange"))

	resolver := symbol.NewResolver(cfg.Asset, ex, observability.NewLogger("resolver"))
	positions := exchange.PositionSizer{Client: ex, BaseCoin: cfg.Asset}
	engine := fill.NewEngine(ex, cfg.AuditPath, observability.NewLogger("fill"))

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	log.Info().Str("url", cfg.NATSURL).Msg("NATS connected")

	if err := ingestion.EnsureStream(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure NATS stream")
	}

	rawEventChan := make(chan ingestion.RawEvent, cfg.EventChanSize)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan, observability.NewLogger("ingestion"))
	if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatal().Err(err).Msg("nats subscribe")
	}

	// --- Controller ---
	ctrl := controller.New(
		controller.Config{
			WriterAddress: cfg.WriterAddress,
			Asset:         cfg.Asset,
			SpotSymbol:    cfg.SpotSymbol,
		},
		vault,
		ex,
		resolver,
		positions,
		engine,
		rawEventChan,
		metrics,
		healthChecker,
		observability.NewLogger("controller"),
	)

	errChan := make(chan error, 2)

	// 1. Controller loop: epoch load, replay, live event processing
	go func() {
		errChan <- ctrl.Run(ctx)
	}()

	// 2. Metrics + health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", healthChecker.LivenessHandler)
		mux.HandleFunc("/readyz", healthChecker.ReadinessHandler)
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			_ = srv.Shutdown(shutCtx)
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	log.Info().
		Str("writer", cfg.WriterAddress).
		Str("asset", cfg.Asset).
		Str("gateway", cfg.GatewayURL).
		Msg("hedger started")

	exitCode := 0
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("fatal error, shutting down")
			exitCode = 1
		}
	}

	cancel()
	natsSubscriber.Stop()
	log.Info().Msg("hedger stopped")
	os.Exit(exitCode)
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return defaultVal
	}
	return i
}
