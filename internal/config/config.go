// Package config loads the process-wide configuration recognized by the
// matching core: connection strings and secrets read from the environment
// (§6 of the matching spec), the way the teacher's market-making bot loads
// its wallet/API config — generalized here to AutomaticEnv since every
// field we read is already environment-scoped and unprefixed.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full set of environment-scoped options the core reads.
type Config struct {
	DatabaseURL    string `mapstructure:"database_url"`
	RedisURL       string `mapstructure:"redis_url"`
	NatsURL        string `mapstructure:"nats_url"`
	KafkaBrokers   []string
	JWTSecret      string `mapstructure:"jwt_secret"`
	SecretKey      string `mapstructure:"secret_key"`
	GoogleClientID string `mapstructure:"google_client_id"`
	// ClickHouseAddr is not one of §6's named variables; it configures the
	// time-series archival leg of dispatch and is optional — an unset
	// value simply skips that leg (see dispatch.New's nil TimeSeriesStore).
	ClickHouseAddr string `mapstructure:"clickhouse_addr"`
}

// Load reads configuration from the environment. Unset variables are left
// as zero values; Validate reports which ones are actually required.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("database_url", "DATABASE_URL")
	v.BindEnv("redis_url", "REDIS_URL")
	v.BindEnv("nats_url", "NATS_URL")
	v.BindEnv("kafka_brokers", "KAFKA_BROKERS")
	v.BindEnv("jwt_secret", "JWT_SECRET")
	v.BindEnv("secret_key", "SECRET_KEY")
	v.BindEnv("google_client_id", "GOOGLE_CLIENT_ID")
	v.BindEnv("clickhouse_addr", "CLICKHOUSE_ADDR")

	cfg := &Config{
		DatabaseURL:    v.GetString("database_url"),
		RedisURL:       v.GetString("redis_url"),
		NatsURL:        v.GetString("nats_url"),
		JWTSecret:      v.GetString("jwt_secret"),
		SecretKey:      v.GetString("secret_key"),
		GoogleClientID: v.GetString("google_client_id"),
		ClickHouseAddr: v.GetString("clickhouse_addr"),
	}
	if brokers := v.GetString("kafka_brokers"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	return cfg, nil
}

// Validate checks the fields the core cannot run without. REDIS_URL and
// GOOGLE_CLIENT_ID are read for completeness of the §6 contract but are
// not required: Redis caching and OAuth issuance are both out of scope
// for this module (SPEC_FULL.md §B).
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.NatsURL == "" {
		return fmt.Errorf("NATS_URL is required")
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.SecretKey) != 32 {
		return fmt.Errorf("SECRET_KEY must be 32 bytes for AES-256-GCM, got %d", len(c.SecretKey))
	}
	return nil
}
