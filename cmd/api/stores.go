package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/account"
	accountrepo "github.com/ovaphlow/pitchfork/service-tracker-go/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/audit"
	auditrepo "github.com/ovaphlow/pitchfork/service-tracker-go/internal/audit/repo"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/catalog"
	catalogrepo "github.com/ovaphlow/pitchfork/service-tracker-go/internal/catalog/repo"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/progress"
	progressrepo "github.com/ovaphlow/pitchfork/service-tracker-go/internal/progress/repo"
)

type stores struct {
	accounts account.Store
	catalog  catalog.Store
	progress progress.Store
	audit    audit.Store
}

func postgresStores(db *sqlx.DB) stores {
	return stores{
		accounts: accountrepo.NewPostgresRepo(db),
		catalog:  catalogrepo.NewPostgresRepo(db),
		progress: progressrepo.NewPostgresRepo(db),
		audit:    auditrepo.NewPostgresRepo(db),
	}
}

func memoryStores() stores {
	return stores{
		accounts: accountrepo.NewMemoryRepo(),
		catalog:  catalogrepo.NewMemoryRepo(),
		progress: progressrepo.NewMemoryRepo(),
		audit:    auditrepo.NewMemoryRepo(),
	}
}

// ensureTables runs every repo's idempotent DDL in dependency order.
func (s stores) ensureTables(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"accounts", s.accounts.EnsureTable},
		{"problems", s.catalog.EnsureTable},
		{"progress_records", s.progress.EnsureTable},
		{"audit_entries", s.audit.EnsureTable},
	}
	for _, st := range steps {
		if err := st.fn(ctx); err != nil {
			return fmt.Errorf("ensure %s: %w", st.name, err)
		}
	}
	return nil
}
