package router

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/gate"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/progress"
)

// Config holds HTTP surface settings.
type Config struct {
	Addr          string
	Prefix        string
	LookupTimeout time.Duration
	BatchMax      int
}

// ConfigFromEnv reads HTTP_ADDR, API_PREFIX, AUTH_LOOKUP_TIMEOUT and PROGRESS_BATCH_MAX.
func ConfigFromEnv() Config {
	cfg := Config{
		Addr:          os.Getenv("HTTP_ADDR"),
		Prefix:        os.Getenv("API_PREFIX"),
		LookupTimeout: gate.DefaultLookupTimeout,
		BatchMax:      progress.DefaultBatchMax,
	}
	if cfg.Addr == "" {
		cfg.Addr = "0.0.0.0:8431"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/tracker-api"
	}
	cfg.Prefix = "/" + strings.Trim(cfg.Prefix, "/")
	if d, err := time.ParseDuration(os.Getenv("AUTH_LOOKUP_TIMEOUT")); err == nil && d > 0 {
		cfg.LookupTimeout = d
	}
	if n, err := strconv.Atoi(os.Getenv("PROGRESS_BATCH_MAX")); err == nil && n > 0 {
		cfg.BatchMax = n
	}
	return cfg
}
