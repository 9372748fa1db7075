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
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-price-watch/api"
	"github.com/aluiziolira/go-price-watch/config"
	"github.com/aluiziolira/go-price-watch/models"
	"github.com/aluiziolira/go-price-watch/monitor"
	"github.com/aluiziolira/go-price-watch/notify"
	"github.com/aluiziolira/go-price-watch/picker"
	"github.com/aluiziolira/go-price-watch/pipeline"
	"github.com/aluiziolira/go-price-watch/scheduler"
	"github.com/aluiziolira/go-price-watch/store"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	configPath := flag.String("config", os.Getenv("PRICEWATCH_CONFIG"), "YAML configuration file")
	storeBackend := flag.String("store", "", "Store backend: memory, file, sqlite, or redis")
	storePath := flag.String("store-path", "", "Directory or database path for file and sqlite stores")
	listenAddr := flag.String("listen", "", "API listen address (empty disables the API)")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	interval := flag.Duration("interval", 0, "Fixed check interval, overriding the checks-per-day setting")
	timeout := flag.Duration("timeout", 0, "Per-request fetch timeout")
	parallelism := flag.Int("parallel", 0, "Number of concurrent fetches")
	journal := flag.String("journal", "", "Append detected changes to this file")
	journalFormat := flag.String("format", "", "Journal format: csv, json, or dual")
	includeInactive := flag.Bool("include-inactive", false, "Also check soft-deleted items")
	once := flag.Bool("once", false, "Run a single check of all items and exit")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "store":
			cfg.StoreBackend = strings.ToLower(*storeBackend)
		case "store-path":
			cfg.StorePath = *storePath
		case "listen":
			cfg.ListenAddr = *listenAddr
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "interval":
			cfg.Interval = *interval
		case "timeout":
			cfg.Timeout = *timeout
		case "parallel":
			cfg.Parallelism = *parallelism
		case "journal":
			cfg.JournalFile = *journal
		case "format":
			cfg.JournalFormat = strings.ToLower(*journalFormat)
		case "include-inactive":
			cfg.IncludeInactive = *includeInactive
		case "v":
			cfg.Verbose = *verbose
		}
	})

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *once); err != nil {
		slog.Error("pricewatch failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		if err := config.LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, once bool) error {
	backend, err := store.OpenBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	st := store.New(backend, slog.Default())
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("close store", slog.Any("error", err))
		}
	}()

	notifier, closeNotifiers, err := buildNotifier(cfg, backend)
	if err != nil {
		return err
	}
	defer closeNotifiers()
	if err := notify.Setup(ctx, notifier); err != nil {
		slog.Warn("notifier setup failed, continuing", slog.Any("error", err))
	}

	journal, err := pipeline.NewJournal(cfg.JournalFormat, cfg.JournalFile)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	p := pipeline.NewPipeline(context.WithoutCancel(ctx), st, notifier, journal, cfg)
	p.Start(cfg.Workers)
	if cfg.Verbose {
		p.StartMetricsReporting(time.Minute)
	}
	defer func() {
		if err := p.Close(); err != nil {
			slog.Error("pipeline shutdown failed", slog.Any("error", err))
		}
	}()

	m, err := monitor.New(cfg, st, p)
	if err != nil {
		return fmt.Errorf("initialising monitor: %w", err)
	}

	if once {
		start := time.Now()
		result, err := m.Tick(ctx)
		if err != nil {
			return fmt.Errorf("check items: %w", err)
		}
		if err := p.Close(); err != nil {
			return fmt.Errorf("pipeline shutdown: %w", err)
		}
		printSummary(result, time.Since(start), p.GetMetrics())
		return nil
	}

	period := cfg.Interval
	if period <= 0 {
		period = scheduler.PeriodForFrequency(st.ChecksPerDay(ctx))
	}
	sched, err := scheduler.New(m.Tick, period, slog.Default())
	if err != nil {
		return fmt.Errorf("initialising scheduler: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	sessions := picker.NewRegistry(st, cfg.InboxSize, slog.Default())
	defer sessions.CloseAll()
	go sessions.Run(ctx, time.Minute, cfg.SessionTTL)

	var servers []*http.Server
	if cfg.MetricsAddr != "" {
		servers = append(servers, serve(&http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(prometheus.Gatherers{m.Metrics.Registry}, promhttp.HandlerOpts{}),
		}, "metrics"))
	}
	if cfg.ListenAddr != "" {
		srv := api.NewServer(api.Options{
			Store:         st,
			Sessions:      sessions,
			Checker:       m,
			Scheduler:     sched,
			FixedInterval: cfg.Interval > 0,
			Notifier:      notifier,
			Logger:        slog.Default(),
			Timeout:       cfg.Timeout + 30*time.Second,
		})
		servers = append(servers, serve(&http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           srv.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}, "api"))
	}

	slog.Info("monitoring started",
		slog.String("store", cfg.StoreBackend),
		slog.Duration("period", period),
		slog.Int("items", len(st.ActiveItems(ctx))),
	)

	<-ctx.Done()
	slog.Info("shutdown signal received, waiting for in-flight work to finish")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, server := range servers {
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", slog.String("addr", server.Addr), slog.Any("error", err))
		}
	}
	return nil
}

func serve(server *http.Server, name string) *http.Server {
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error(name+" server failed", slog.Any("error", err))
		}
	}()
	slog.Info(name+" server enabled", slog.String("addr", server.Addr))
	return server
}

// buildNotifier always logs, and adds every configured remote channel.
func buildNotifier(cfg *config.Config, backend store.Backend) (notify.Notifier, func(), error) {
	notifiers := notify.Multi{notify.LogNotifier{Logger: slog.Default()}}
	var closers []func() error

	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.WebhookURL, cfg.Timeout))
	}
	if rb, ok := backend.(*store.RedisBackend); ok && cfg.RedisChannel != "" {
		notifiers = append(notifiers, &notify.RedisNotifier{Client: rb.Client(), Channel: cfg.RedisChannel})
	}
	if cfg.NATSURL != "" {
		nn, err := notify.DialNATS(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		notifiers = append(notifiers, nn)
		closers = append(closers, nn.Close)
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				slog.Error("close notifier", slog.Any("error", err))
			}
		}
	}
	return notifiers, closeAll, nil
}

func printSummary(result *models.TickResult, duration time.Duration, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Check complete")

	fmt.Printf("  Checked:       %d\n", result.Checked)
	fmt.Printf("  Changed:       %d\n", result.Changed)
	fmt.Printf("  Unchanged:     %d\n", result.Unchanged)
	fmt.Printf("  No match:      %d\n", result.NoMatch)
	fmt.Printf("  Errors:        %d\n", result.ErrorCount)
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if applied, ok := metrics["applied_changes"].(int64); ok {
		fmt.Printf("  Applied:       %d\n", applied)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Skipped:       %v\n", valErrors)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
