// Package config loads process configuration from the environment,
// following the teacher's env-var-driven style generalized with viper for
// defaulting and prefixed-env binding.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the signer process.
type Config struct {
	NodeID       string `mapstructure:"node_id"`
	PermitSecret string `mapstructure:"permit_secret"`

	KMS KMSConfig
	DB  DBConfig

	SessionTTL       time.Duration `mapstructure:"-"`
	RoundTripTimeout time.Duration `mapstructure:"-"`
}

// KMSConfig selects and configures a KMS provider.
type KMSConfig struct {
	Provider     string `mapstructure:"provider"` // "local" or "aws"
	LocalKeyFile string `mapstructure:"local_key_file"`
	AWSKeyARN    string `mapstructure:"aws_key_arn"`
	AWSRegion    string `mapstructure:"aws_region"`
}

// DBConfig holds PostgreSQL connection settings for the envelope and audit
// stores. When Host is empty, callers fall back to the file-backed
// envelope store and the in-memory audit store.
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN returns the PostgreSQL connection string, or "" if no host is set.
func (d DBConfig) DSN() string {
	if d.Host == "" {
		return ""
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

const minPermitSecretLen = 32

// Load reads configuration from environment variables prefixed with
// THRESHVAULT_, applying the same required-secret-length validation the
// teacher's LoadConfigFromEnv performed.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("THRESHVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("node_id", "signer-1")
	v.SetDefault("session_ttl_sec", 60)
	v.SetDefault("round_trip_timeout_sec", 30)

	v.SetDefault("kms.provider", "local")
	v.SetDefault("kms.local_key_file", "")
	v.SetDefault("kms.aws_region", "us-east-1")

	v.SetDefault("db.host", "")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "thresh_vault")
	v.SetDefault("db.dbname", "thresh_vault")
	v.SetDefault("db.sslmode", "disable")

	permitSecret := v.GetString("permit_secret")
	if len(permitSecret) < minPermitSecretLen {
		return nil, fmt.Errorf("config: THRESHVAULT_PERMIT_SECRET must be at least %d characters", minPermitSecretLen)
	}

	cfg := &Config{
		NodeID:       v.GetString("node_id"),
		PermitSecret: permitSecret,
		KMS: KMSConfig{
			Provider:     v.GetString("kms.provider"),
			LocalKeyFile: v.GetString("kms.local_key_file"),
			AWSKeyARN:    v.GetString("kms.aws_key_arn"),
			AWSRegion:    v.GetString("kms.aws_region"),
		},
		DB: DBConfig{
			Host:     v.GetString("db.host"),
			Port:     v.GetInt("db.port"),
			User:     v.GetString("db.user"),
			Password: v.GetString("db.password"),
			DBName:   v.GetString("db.dbname"),
			SSLMode:  v.GetString("db.sslmode"),
		},
		SessionTTL:       time.Duration(v.GetInt("session_ttl_sec")) * time.Second,
		RoundTripTimeout: time.Duration(v.GetInt("round_trip_timeout_sec")) * time.Second,
	}

	return cfg, nil
}
