package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/polysim/config"
	"github.com/alejandrodnm/polysim/internal/adapters/notify"
	"github.com/alejandrodnm/polysim/internal/adapters/storage"
	"github.com/alejandrodnm/polysim/internal/application/engine/paper"
	"github.com/alejandrodnm/polysim/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: built-in defaults + env)")
	replay := flag.String("replay", "", "replay a JSONL event file (\"-\" = stdin)")
	live := flag.Bool("live", false, "paper-trade against live Polymarket books, intents read from stdin")
	report := flag.Bool("report", false, "print the evaluation report from the journal and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("log-format", "", "log format: text|json (overrides config)")
	format := flag.String("format", "table", "report format: table|compact|json")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if *replay == "" {
		*replay = cfg.Feed.Path
	}
	setupLogger(cfg.Log)

	outFormat, err := notify.ParseFormat(*format)
	if err != nil {
		slog.Error("invalid report format", "err", err)
		os.Exit(1)
	}
	reporter := notify.NewConsole(outFormat)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *report {
		if err := runReport(ctx, cfg, store, reporter); err != nil {
			slog.Error("report failed", "err", err)
			os.Exit(1)
		}
		return
	}

	simCfg, err := simulationConfig(cfg)
	if err != nil {
		slog.Error("invalid simulation config", "err", err)
		os.Exit(1)
	}

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr)
		defer shutdown(srv)
	}

	slog.Info("polysim starting",
		"config", *configPath,
		"dsn", cfg.Storage.DSN,
		"initial_balance", simCfg.InitialBalance,
		"fee_rate", simCfg.FeeRate,
		"mark_mode", simCfg.MarkMode,
		"cohort_window", simCfg.CohortWindow,
		"live", *live,
		"replay", *replay,
	)

	sim := paper.New(simCfg, paper.WithJournal(store))

	switch {
	case *live:
		err = runLive(ctx, cfg, sim, reporter)
	case *replay != "":
		err = runReplay(ctx, *replay, sim, reporter)
	default:
		slog.Error("nothing to do: use -replay <file>, -live or -report")
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("polysim exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("polysim stopped cleanly")
}

func simulationConfig(cfg *config.Config) (paper.Config, error) {
	mode, err := cfg.MarkMode()
	if err != nil {
		return paper.Config{}, err
	}
	queue, err := cfg.QueueMode()
	if err != nil {
		return paper.Config{}, err
	}
	epoch, err := cfg.CohortEpoch()
	if err != nil {
		return paper.Config{}, err
	}
	return paper.Config{
		InitialBalance:   cfg.Simulation.InitialBalance,
		FeeRate:          cfg.Simulation.FeeRate,
		MarkMode:         mode,
		CohortWindow:     cfg.CohortWindow(),
		CohortEpoch:      epoch,
		DefaultQueueMode: queue,
	}, nil
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "err", err, "addr", addr)
		}
	}()
	slog.Info("metrics server listening", "addr", addr)
	return srv
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("metrics server shutdown", "err", err)
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// stdout queda para el reporte y para los resultados de las intenciones
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
