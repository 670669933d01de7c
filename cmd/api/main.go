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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/account"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/audit"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/catalog"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/gate"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/progress"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-tracker-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-tracker-go/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	// init logger
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-tracker-go")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// init stores
	dbCfg := database.ConfigFromEnv()
	var st stores
	switch dbCfg.Driver {
	case database.DriverMemory:
		sugar.Warn("using in-memory store; data is lost on exit")
		st = memoryStores()
	default:
		db, err := database.ConnectX(dbCfg)
		if err != nil {
			sugar.Fatalf("db connect: %v", err)
		}
		defer db.Close()
		st = postgresStores(db)
	}
	initCtx, cancelInit := context.WithTimeout(ctx, 30*time.Second)
	defer cancelInit()
	if err := st.ensureTables(initCtx); err != nil {
		sugar.Fatalf("schema: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := utilities.NewMetrics(registry)

	tokens, err := token.NewService(token.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("token service: %v", err)
	}

	httpCfg := router.ConfigFromEnv()
	auditSvc := audit.NewService(st.audit, sugar.Named("audit"), metrics)
	accountSvc := account.NewService(st.accounts, nil, tokens, auditSvc, sugar.Named("account"))
	catalogSvc := catalog.NewService(st.catalog, auditSvc, sugar.Named("catalog"))
	progressSvc := progress.NewService(st.progress, catalogSvc, progress.Config{BatchMax: httpCfg.BatchMax}, sugar.Named("progress"), metrics)
	authGate := gate.New(tokens, accountSvc, httpCfg.LookupTimeout, sugar.Named("gate"), metrics)

	if err := accountSvc.Bootstrap(initCtx, account.BootstrapConfigFromEnv()); err != nil {
		sugar.Fatalf("bootstrap: %v", err)
	}

	// mount http server
	handler := router.RegisterRoutes(httpCfg, router.Services{
		Accounts: accountSvc,
		Catalog:  catalogSvc,
		Progress: progressSvc,
		Audit:    auditSvc,
		Gate:     authGate,
		Metrics:  metrics,
	}, sugar.Named("http"))
	srv := &http.Server{
		Addr:              httpCfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sugar.Infow("http server listening", "addr", httpCfg.Addr, "prefix", httpCfg.Prefix)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sugar.Info("shutting down")
		// give a short grace period for in-flight requests
		doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(doneCtx)
	})
	if err := g.Wait(); err != nil {
		sugar.Errorf("server stopped: %v", err)
	}
	sugar.Info("goodbye")
}
