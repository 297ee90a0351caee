package postgres

import (
	"testing"
	"time"

	"github.com/sifan077/shortlink/config"
	"github.com/stretchr/testify/assert"
)

func TestConnString(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.PostgresConfig
		want string
	}{
		{
			name: "defaults",
			cfg:  config.PostgresConfig{User: "app", Database: "links"},
			want: "postgres://app@localhost:5432/links?sslmode=disable",
		},
		{
			name: "escaped credentials",
			cfg:  config.PostgresConfig{Host: "db", Port: 6543, User: "a b", Password: "p/w", Database: "links", SSLMode: "require"},
			want: "postgres://a%20b:p%2Fw@db:6543/links?sslmode=require",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConnString(tt.cfg))
		})
	}
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 30*time.Second, parseDuration("30s", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("soon", time.Minute))
}
