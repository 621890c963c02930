package config

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB holds the connections the configured document backend needs
type DB struct {
	Postgres *gorm.DB
	Mongo    *mongo.Client
	NATS     *nats.Conn
}

// InitDB opens the connections of the configured document backend. The memory and
// firestore backends need none.
func InitDB(cfg *Config) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db := &DB{}

	switch cfg.DocumentBackend {
	case BackendMongo:
		client, err := initMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		db.Mongo = client
	case BackendPostgres:
		pg, err := initPostgres(ctx, cfg.PostgresConnStr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		db.Postgres = pg

		nc, err := nats.Connect(cfg.NATSURL, nats.Name("livefeed"), nats.MaxReconnects(-1))
		if err != nil {
			db.CloseDB()
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		db.NATS = nc
		log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
	}

	return db, nil
}

// initPostgres opens the documents database and checks it answers before handing it out
func initPostgres(ctx context.Context, connStr string) (*gorm.DB, error) {
	pg, err := gorm.Open(postgres.Open(connStr), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Warn),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, err
	}

	pool, err := pg.DB()
	if err != nil {
		return nil, err
	}
	pool.SetMaxOpenConns(20)
	pool.SetConnMaxIdleTime(5 * time.Minute)

	if err := pool.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}

	log.Info().Int("max_open", 20).Msg("Connected to PostgreSQL")
	return pg, nil
}

func initMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetAppName("livefeed").
		SetServerSelectionTimeout(10*time.Second))
	if err != nil {
		return nil, err
	}

	// change streams need a replica set primary
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping: %w", err)
	}

	log.Info().Msg("Connected to MongoDB")
	return client, nil
}

// CloseDB closes the open connections
func (db *DB) CloseDB() {
	if db.NATS != nil {
		if err := db.NATS.Drain(); err != nil {
			log.Error().Err(err).Msg("Error draining NATS connection")
		} else {
			log.Info().Msg("NATS connection drained.")
		}
	}

	if db.Postgres != nil {
		sqlDB, err := db.Postgres.DB()
		if err != nil {
			log.Error().Err(err).Msg("Error getting SQL DB from GORM")
		} else if err := sqlDB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing PostgreSQL connection")
		} else {
			log.Info().Msg("PostgreSQL connection closed.")
		}
	}

	if db.Mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.Mongo.Disconnect(ctx); err != nil {
			log.Error().Err(err).Msg("Error closing MongoDB connection")
			return
		}
		log.Info().Msg("MongoDB connection closed")
	}
}
