package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Document backends.
const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
	BackendMongo     = "mongo"
	BackendPostgres  = "postgres"
)

type Config struct {
	Port                    string
	Env                     string
	LogLevel                string
	DocumentBackend         string
	FirebaseCredentialsPath string
	FirebaseProjectID       string
	MongoURI                string
	MongoDatabase           string
	PostgresConnStr         string
	NATSURL                 string
	NATSSubjectPrefix       string
	MutationTimeout         time.Duration
	FollowSweepSchedule     string
	ProfileCacheTTL         time.Duration
}

// IsDevelopment reports whether the process runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Load reads .env, then the environment and an optional settings.toml.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetDefault("port", "8080")
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("document_backend", BackendMemory)
	v.SetDefault("mongo_database", "socialmedia")
	v.SetDefault("nats_subject_prefix", "livefeed")
	v.SetDefault("mutation_timeout", "15s")
	v.SetDefault("follow_sweep_schedule", "@every 30m")
	v.SetDefault("profile_cache_ttl", "1m")
	for _, key := range []string{"firebase_credentials_path", "firebase_project_id", "mongo_uri", "postgres_conn_str", "nats_url"} {
		v.SetDefault(key, "")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.AddConfigPath(".")
	v.SetConfigName("settings")
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read settings: %w", err)
		}
	}

	cfg := &Config{
		Port:                    v.GetString("port"),
		Env:                     v.GetString("env"),
		LogLevel:                v.GetString("log_level"),
		DocumentBackend:         strings.ToLower(v.GetString("document_backend")),
		FirebaseCredentialsPath: v.GetString("firebase_credentials_path"),
		FirebaseProjectID:       v.GetString("firebase_project_id"),
		MongoURI:                v.GetString("mongo_uri"),
		MongoDatabase:           v.GetString("mongo_database"),
		PostgresConnStr:         v.GetString("postgres_conn_str"),
		NATSURL:                 v.GetString("nats_url"),
		NATSSubjectPrefix:       v.GetString("nats_subject_prefix"),
		MutationTimeout:         v.GetDuration("mutation_timeout"),
		FollowSweepSchedule:     v.GetString("follow_sweep_schedule"),
		ProfileCacheTTL:         v.GetDuration("profile_cache_ttl"),
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.DocumentBackend {
	case BackendMemory:
	case BackendFirestore:
		if c.FirebaseCredentialsPath == "" {
			return errors.New("FIREBASE_CREDENTIALS_PATH is required for the firestore backend")
		}
	case BackendMongo:
		if c.MongoURI == "" {
			return errors.New("MONGO_URI is required for the mongo backend")
		}
	case BackendPostgres:
		if c.PostgresConnStr == "" || c.NATSURL == "" {
			return errors.New("POSTGRES_CONN_STR and NATS_URL are required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown DOCUMENT_BACKEND %q", c.DocumentBackend)
	}
	if c.MutationTimeout <= 0 {
		return fmt.Errorf("MUTATION_TIMEOUT must be positive, got %s", c.MutationTimeout)
	}
	return nil
}
