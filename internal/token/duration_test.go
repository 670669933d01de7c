package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"7d", 604800 * time.Second},
		{"24h", 86400 * time.Second},
		{"30m", 1800 * time.Second},
		{"45s", 45 * time.Second},
		{"1d", 24 * time.Hour},
		{"abc", DefaultTTL},
		{"", DefaultTTL},
		{"7", DefaultTTL},
		{"d7", DefaultTTL},
		{"7w", DefaultTTL},
		{"-5m", DefaultTTL},
		{"1.5h", DefaultTTL},
		{"0h", DefaultTTL},
		{" 7d", DefaultTTL},
		{"99999999999999999999d", DefaultTTL},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseDuration(tc.in))
		})
	}
}

func TestDefaultTTLIsSevenDays(t *testing.T) {
	assert.Equal(t, float64(604800), DefaultTTL.Seconds())
}
