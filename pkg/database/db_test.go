package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionDSN(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "no settings",
			cfg:  Config{DSN: "postgres://u:p@db:5432/tracker?sslmode=disable"},
			want: "postgres://u:p@db:5432/tracker?sslmode=disable",
		},
		{
			name: "url form",
			cfg:  Config{DSN: "postgres://u:p@db:5432/tracker?sslmode=disable", TimeZone: "Europe/Paris", ClientEncoding: "UTF8"},
			want: "postgres://u:p@db:5432/tracker?client_encoding=UTF8&sslmode=disable&timezone=Europe%2FParis",
		},
		{
			name: "keyword form",
			cfg:  Config{DSN: "host=db dbname=tracker ", TimeZone: "UTC"},
			want: "host=db dbname=tracker timezone='UTC'",
		},
		{
			name: "keyword form escapes quotes",
			cfg:  Config{DSN: "host=db", TimeZone: `it's\odd`},
			want: `host=db timezone='it\'s\\odd'`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := sessionDSN(tc.cfg)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSessionDSN_BadURL(t *testing.T) {
	_, err := sessionDSN(Config{DSN: "postgres://u:p@db:bad-port/x", TimeZone: "UTC"})
	assert.Error(t, err)
}
