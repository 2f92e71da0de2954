package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ReadsEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/sibyl")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("SECRET_KEY", "01234567890123456789012345678901")
	t.Setenv("CLICKHOUSE_ADDR", "localhost:9000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/sibyl", cfg.DatabaseURL)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "localhost:9000", cfg.ClickHouseAddr)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ClickHouseAddrOptional(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/sibyl")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("KAFKA_BROKERS", "broker1:9092")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("SECRET_KEY", "01234567890123456789012345678901")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.ClickHouseAddr)
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RequiresSecretKeyLength(t *testing.T) {
	cfg := &Config{
		DatabaseURL:  "postgres://x",
		NatsURL:      "nats://x",
		KafkaBrokers: []string{"b:9092"},
		JWTSecret:    "s",
		SecretKey:    "too-short",
	}
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidate_MissingRequiredField(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.Validate())
}
