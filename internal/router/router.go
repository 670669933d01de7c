package router

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/account"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/audit"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/catalog"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/gate"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/progress"
	"github.com/ovaphlow/pitchfork/service-tracker-go/pkg/utilities"
)

// Services are the wired domain services the routes dispatch to.
type Services struct {
	Accounts *account.Service
	Catalog  *catalog.Service
	Progress *progress.Service
	Audit    *audit.Service
	Gate     *gate.Gate
	Metrics  *utilities.Metrics
}

// RegisterRoutes mounts every endpoint under cfg.Prefix on an http.ServeMux
// and wraps the mux with request id, security header and logging middleware.
func RegisterRoutes(cfg Config, svc Services, logger *zap.SugaredLogger) http.Handler {
	mux := http.NewServeMux()
	p := cfg.Prefix
	g := svc.Gate
	signedIn := g.Authenticated
	elevated := g.Require(entity.RoleElevated)

	mux.HandleFunc("GET "+p+"/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET "+p+"/metrics", svc.Metrics.Handler())

	// auth and accounts
	accounts := account.NewHandler(svc.Accounts, logger)
	mux.HandleFunc("POST "+p+"/auth/register", accounts.Register)
	mux.HandleFunc("POST "+p+"/auth/login", accounts.Login)
	mux.Handle("GET "+p+"/auth/me", signedIn(http.HandlerFunc(accounts.Me)))
	mux.Handle("PUT "+p+"/auth/password", signedIn(http.HandlerFunc(accounts.ChangePassword)))
	mux.Handle("GET "+p+"/accounts", elevated(http.HandlerFunc(accounts.List)))
	mux.Handle("POST "+p+"/accounts/{id}/promote", elevated(http.HandlerFunc(accounts.Promote)))
	mux.Handle("POST "+p+"/accounts/{id}/demote", elevated(http.HandlerFunc(accounts.Demote)))
	mux.Handle("POST "+p+"/accounts/{id}/activate", elevated(http.HandlerFunc(accounts.Activate)))
	mux.Handle("POST "+p+"/accounts/{id}/deactivate", elevated(http.HandlerFunc(accounts.Deactivate)))

	// problems
	problems := catalog.NewHandler(svc.Catalog, svc.Progress, logger)
	mux.Handle("GET "+p+"/problems", g.Optional(http.HandlerFunc(problems.List)))
	mux.Handle("GET "+p+"/problems/{id}", g.Optional(http.HandlerFunc(problems.Get)))
	mux.Handle("POST "+p+"/problems", elevated(http.HandlerFunc(problems.Create)))
	mux.Handle("PUT "+p+"/problems/{id}", elevated(http.HandlerFunc(problems.Update)))
	mux.Handle("DELETE "+p+"/problems/{id}", elevated(http.HandlerFunc(problems.Delete)))

	// progress, always the caller's own
	ledger := progress.NewHandler(svc.Progress, logger)
	mux.Handle("GET "+p+"/progress", signedIn(http.HandlerFunc(ledger.List)))
	mux.Handle("GET "+p+"/progress/summary", signedIn(http.HandlerFunc(ledger.Summary)))
	mux.Handle("POST "+p+"/progress/batch", signedIn(http.HandlerFunc(ledger.Batch)))
	mux.Handle("POST "+p+"/progress/{problemID}/complete", signedIn(http.HandlerFunc(ledger.Complete)))
	mux.Handle("POST "+p+"/progress/{problemID}/reset", signedIn(http.HandlerFunc(ledger.Reset)))
	mux.Handle("PUT "+p+"/progress/{problemID}", signedIn(http.HandlerFunc(ledger.SetStatus)))

	// audit, read only
	trail := audit.NewHandler(svc.Audit, logger)
	mux.Handle("GET "+p+"/audit/recent", elevated(http.HandlerFunc(trail.Recent)))
	mux.Handle("GET "+p+"/audit/actors/{id}", elevated(http.HandlerFunc(trail.ByActor)))
	mux.Handle("GET "+p+"/audit/entities/{type}/{id}", elevated(http.HandlerFunc(trail.ByEntity)))
	mux.Handle("GET "+p+"/audit/range", elevated(http.HandlerFunc(trail.Range)))

	// wrap with security headers middleware then logging middleware
	var handler http.Handler = mux
	handler = SecurityHeadersMiddleware()(handler)
	handler = LoggingMiddleware(logger, svc.Metrics)(handler)
	handler = RequestIDMiddleware()(handler)
	return handler
}
