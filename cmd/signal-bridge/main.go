package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ducminhle1904/signal-bridge/cmd/common"
	"github.com/ducminhle1904/signal-bridge/internal/account"
	"github.com/ducminhle1904/signal-bridge/internal/bridge"
	"github.com/ducminhle1904/signal-bridge/internal/config"
	"github.com/ducminhle1904/signal-bridge/internal/logger"
	"github.com/ducminhle1904/signal-bridge/internal/monitoring"
	"github.com/ducminhle1904/signal-bridge/internal/pipeline"
	"github.com/ducminhle1904/signal-bridge/internal/risk"
	"github.com/ducminhle1904/signal-bridge/internal/sizing"
	"github.com/ducminhle1904/signal-bridge/internal/store"
	"github.com/ducminhle1904/signal-bridge/internal/terminal"
	"github.com/ducminhle1904/signal-bridge/internal/webhook"
	"github.com/ducminhle1904/signal-bridge/pkg/reporting"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file (.yaml, .yml or .json); defaults and environment only when empty")
		envFile    = flag.String("env", "", "Environment file path (default: .env if present)")
		bridgeDir  = flag.String("bridge-dir", "", "Terminal bridge directory - overrides config")
		addr       = flag.String("addr", "", "HTTP listen address - overrides config")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		common.PrintVersion("signal-bridge")
		return
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Printf("Warning: %v, checking environment variables...", err)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *bridgeDir != "" {
		cfg.Bridge.Dir = *bridgeDir
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	logg, err := logger.New(cfg.LoggerOptions("signal-bridge"))
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logg.Close()

	fmt.Println("🚀 Signal Bridge Starting...")

	if err := run(cfg, logg); err != nil {
		logg.LogError("signal-bridge", err)
		log.Fatalf("Signal bridge stopped with error: %v", err)
	}
	fmt.Println("✅ Signal bridge stopped successfully")
}

func run(cfg *config.Config, logg *logger.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	st, err := store.OpenFileStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfg.Seed(ctx, st); err != nil {
		return fmt.Errorf("failed to seed strategies: %w", err)
	}

	transport, err := bridge.NewFileTransport(cfg.BridgeSettings(), logg.With("bridge"))
	if err != nil {
		return fmt.Errorf("failed to create bridge transport: %w", err)
	}
	client := terminal.NewClient(transport, cfg.TerminalTimeouts())
	acct := account.NewSource(client, cfg.SnapshotMaxAge(), loc, logg.With("account"))

	symbols := cfg.SymbolTable()
	sizer := sizing.NewEngine(symbols, cfg.Sizing.SafetyFactor)
	validator := risk.NewValidator(risk.NewCorrelationTable(cfg.Correlations))
	engine := risk.NewEngine(st, acct, validator, sizer, logg.With("risk"))

	health := monitoring.NewHealthChecker(transport.Prober())

	pipe := pipeline.New(cfg.PipelineSettings(), st, client, engine, logg.With("pipeline"))
	pipe.SetPendingEvaluator(engine)
	pipe.SetAccount(acct)
	pipe.SetHealth(health)
	if notifier := cfg.Notifier(); notifier != nil {
		pipe.SetNotifier(notifier)
		logg.Info("📣 Telegram alerts enabled")
	}

	reconciler := pipeline.NewReconciler(st, client, cfg.ReconcileInterval(), logg.With("reconciler"))
	reconciler.SetAccount(acct)

	srv := webhook.NewServer(cfg.WebhookSettings(), st, engine, symbols, logg.With("webhook"))
	srv.SetOperator(client)
	srv.SetAccount(acct)
	srv.SetHealth(health)
	hub := webhook.NewAuditHub()
	st.SetAuditHook(hub.Publish)
	srv.SetAuditHub(hub)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	strategies, err := st.ListStrategies(ctx)
	if err != nil {
		return fmt.Errorf("failed to list strategies: %w", err)
	}
	reporting.WriteStartup(os.Stdout, reporting.StartupInfo{
		Version:     common.GetFullVersion(),
		HTTPAddr:    cfg.HTTP.Addr,
		BridgeDir:   cfg.Bridge.Dir,
		StorePath:   st.Path(),
		Strategies:  strategies,
		AuthToken:   cfg.HTTP.Token != "",
		RequirePing: cfg.Bridge.RequirePing,
	})
	if cfg.HTTP.Token == "" {
		logg.Warning("⚠️ No webhook token configured, every request is accepted")
	}

	errCh := make(chan error, 4)
	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	start("bridge", transport.Run)
	start("pipeline", pipe.Run)
	start("reconciler", reconciler.Run)

	go func() {
		logg.Info("🌐 Listening for alerts on %s", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigChan:
		fmt.Println("\n🛑 Shutdown signal received...")
	case runErr = <-errCh:
		logg.Error("❌ Component failed: %v", runErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logg.Warning("HTTP shutdown: %v", err)
	}

	cancel()
	wg.Wait()
	return runErr
}
