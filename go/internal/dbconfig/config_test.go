package dbconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "postgres")
	t.Setenv("DB_PASSWORD", "postgres")
	t.Setenv("DB_SSLMODE", "disable")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_NAME", "auctions")
	t.Setenv("DB_MAX_CONNS", "not-a-number")

	cfg := NewConfigFromEnv()

	assert.Equal(t, "db", cfg.Host)
	assert.Equal(t, 6543, cfg.Port)
	assert.Equal(t, int32(20), cfg.MaxConns)
	assert.Equal(t, "postgres://postgres:postgres@db:6543/auctions?sslmode=disable", cfg.DSN())
}

func TestPoolConfig(t *testing.T) {
	cfg := Config{Host: "localhost", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable", MaxConns: 7}

	pc, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, int32(7), pc.MaxConns)
	assert.Equal(t, "d", pc.ConnConfig.Database)
}
