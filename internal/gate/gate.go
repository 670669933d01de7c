// Package gate decides, per request, whether a bearer credential maps to an
// active account holding the required role. Nothing is cached between calls:
// the account is loaded fresh every time so role and active changes apply on
// the very next request.
package gate

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-tracker-go/pkg/utilities"
)

// DefaultLookupTimeout bounds the account re-fetch.
const DefaultLookupTimeout = 3 * time.Second

// Outcome is the terminal state of one authorization attempt.
type Outcome int

const (
	Authorized Outcome = iota
	Unauthenticated
	Forbidden
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case Authorized:
		return "authorized"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case Unavailable:
		return "unavailable"
	}
	return "unknown"
}

// Reason refines a rejection. It is logged and counted but never sent to clients.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonAbsent          Reason = "absent"
	ReasonMalformed       Reason = "malformed"
	ReasonExpired         Reason = "expired"
	ReasonUnknown         Reason = "unknown"
	ReasonAccountGone     Reason = "account_gone"
	ReasonAccountInactive Reason = "account_inactive"
	ReasonRole            Reason = "role"
	ReasonStore           Reason = "store"
)

// Decision is the result of Authorize. Account is set only when Outcome is Authorized.
type Decision struct {
	Outcome Outcome
	Reason  Reason
	Account *entity.Account
}

// Verifier checks a raw token.
type Verifier interface {
	Verify(tokenString string) (*token.Claims, error)
}

// Accounts loads the current state of an account.
type Accounts interface {
	Get(ctx context.Context, id string) (*entity.Account, error)
}

type Gate struct {
	verifier Verifier
	accounts Accounts
	timeout  time.Duration
	logger   *zap.SugaredLogger
	metrics  *utilities.Metrics
}

func New(verifier Verifier, accounts Accounts, timeout time.Duration, logger *zap.SugaredLogger, metrics *utilities.Metrics) *Gate {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Gate{verifier: verifier, accounts: accounts, timeout: timeout, logger: logger, metrics: metrics}
}

// Authorize runs header extraction, token verification, account re-fetch and
// the role check, stopping at the first failing step.
func (g *Gate) Authorize(ctx context.Context, header string, roles ...entity.Role) Decision {
	raw, reason := bearer(header)
	if reason != ReasonNone {
		return g.reject(Unauthenticated, reason)
	}

	claims, err := g.verifier.Verify(raw)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrExpired):
			return g.reject(Unauthenticated, ReasonExpired)
		case errors.Is(err, token.ErrMalformed):
			return g.reject(Unauthenticated, ReasonMalformed)
		default:
			return g.reject(Unauthenticated, ReasonUnknown)
		}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	acc, err := g.accounts.Get(lookupCtx, claims.AccountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return g.reject(Unauthenticated, ReasonAccountGone)
		}
		g.logger.Warnw("account lookup failed", "account_id", claims.AccountID, "err", err)
		return g.reject(Unavailable, ReasonStore)
	}
	if !acc.Active {
		return g.reject(Unauthenticated, ReasonAccountInactive)
	}
	// the role in the token is ignored; only the stored role counts
	if !acc.HasRole(roles...) {
		return g.reject(Forbidden, ReasonRole)
	}
	return Decision{Outcome: Authorized, Account: acc}
}

func (g *Gate) reject(o Outcome, r Reason) Decision {
	g.metrics.AuthRejected(string(r))
	return Decision{Outcome: o, Reason: r}
}

// bearer extracts the token from an Authorization header value.
func bearer(header string) (string, Reason) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ReasonAbsent
	}
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ReasonMalformed
	}
	raw := strings.TrimSpace(header[len(prefix):])
	if raw == "" {
		return "", ReasonMalformed
	}
	return raw, ReasonNone
}
