package gate

import (
	"context"
	"net/http"

	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-tracker-go/pkg/utilities"
)

type ctxKey struct{}

// AccountFrom returns the account attached by Require, Authenticated or Optional.
func AccountFrom(ctx context.Context) (*entity.Account, bool) {
	acc, ok := ctx.Value(ctxKey{}).(*entity.Account)
	return acc, ok && acc != nil
}

// WithAccount attaches an account to ctx.
func WithAccount(ctx context.Context, acc *entity.Account) context.Context {
	return context.WithValue(ctx, ctxKey{}, acc)
}

// Require admits only active accounts holding one of roles. With no roles it
// admits any active account.
func (g *Gate) Require(roles ...entity.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := g.Authorize(r.Context(), r.Header.Get("Authorization"), roles...)
			if d.Outcome != Authorized {
				g.logger.Debugw("request rejected", "path", r.URL.Path, "outcome", d.Outcome.String(), "reason", d.Reason)
				writeRejection(w, d)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), d.Account)))
		})
	}
}

func (g *Gate) Authenticated(next http.Handler) http.Handler {
	return g.Require()(next)
}

// Optional never rejects. When the caller proves a live identity the account is
// attached; otherwise the request proceeds anonymously.
func (g *Gate) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r)
			return
		}
		d := g.Authorize(r.Context(), r.Header.Get("Authorization"))
		if d.Outcome == Authorized {
			r = r.WithContext(WithAccount(r.Context(), d.Account))
		}
		next.ServeHTTP(w, r)
	})
}

func writeRejection(w http.ResponseWriter, d Decision) {
	switch d.Outcome {
	case Forbidden:
		utilities.WriteError(w, http.StatusForbidden, utilities.CodeForbidden, "you are not permitted to perform this action", nil)
	case Unavailable:
		w.Header().Set("Retry-After", "1")
		utilities.WriteError(w, http.StatusServiceUnavailable, utilities.CodeUnavailable, "service temporarily unavailable, please retry", nil)
	default:
		msg := "please sign in again"
		if d.Reason == ReasonExpired {
			msg = "your session has expired, please sign in again"
		}
		w.Header().Set("WWW-Authenticate", `Bearer realm="tracker"`)
		utilities.WriteError(w, http.StatusUnauthorized, utilities.CodeUnauthenticated, msg, nil)
	}
}

// Caller returns the attached account or writes a 401 and reports false.
// Handlers mounted behind Require use it instead of trusting request input.
func Caller(w http.ResponseWriter, r *http.Request) (*entity.Account, bool) {
	acc, ok := AccountFrom(r.Context())
	if !ok {
		writeRejection(w, Decision{Outcome: Unauthenticated, Reason: ReasonAbsent})
	}
	return acc, ok
}
