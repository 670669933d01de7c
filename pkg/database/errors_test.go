package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/tracker")
	t.Setenv("STORE_DRIVER", "MEMORY")
	cfg := ConfigFromEnv()
	assert.Equal(t, "postgres://u:p@db:5432/tracker", cfg.DSN)
	assert.Equal(t, DriverMemory, cfg.Driver)

	t.Setenv("STORE_DRIVER", "mysql")
	assert.Equal(t, DriverPostgres, ConfigFromEnv().Driver)
}
