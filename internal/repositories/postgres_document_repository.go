package repositories

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/anonto42/nano-midea/livefeed/internal/feed"
	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChangePublisher announces committed writes to live subscribers.
type ChangePublisher interface {
	Publish(ctx context.Context, collection string, change models.Change) error
}

// Document is one row of the documents table. Collection paths are stored verbatim.
type Document struct {
	Collection string            `gorm:"primaryKey;size:255" json:"collection"`
	ID         string            `gorm:"primaryKey;size:64" json:"id"`
	Fields     datatypes.JSONMap `gorm:"type:jsonb" json:"fields"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// PostgresDocumentRepository implements DocumentRepository for PostgreSQL. Every
// committed write is handed to the publisher.
type PostgresDocumentRepository struct {
	db        *gorm.DB
	publisher ChangePublisher
	logger    zerolog.Logger
	now       func() time.Time
}

// NewPostgresDocumentRepository creates a new PostgresDocumentRepository
func NewPostgresDocumentRepository(db *gorm.DB, publisher ChangePublisher, logger zerolog.Logger) *PostgresDocumentRepository {
	return &PostgresDocumentRepository{
		db:        db,
		publisher: publisher,
		logger:    logger.With().Str("component", "repository").Str("backend", "postgres").Logger(),
		now:       time.Now,
	}
}

// Migrate creates or updates the documents table
func (r *PostgresDocumentRepository) Migrate() error {
	return r.db.AutoMigrate(&Document{})
}

// Create inserts a new document row
func (r *PostgresDocumentRepository) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	doc := Document{
		Collection: collection,
		ID:         uuid.NewString(),
		Fields:     datatypes.JSONMap(ApplyFields(nil, fields, r.now())),
	}
	if err := r.db.WithContext(ctx).Create(&doc).Error; err != nil {
		return "", fmt.Errorf("failed to create document in %s: %w", collection, classifyPostgres(err))
	}

	r.publish(ctx, collection, models.Change{Kind: models.Added, EntityID: doc.ID, Payload: doc.Fields})
	return doc.ID, nil
}

// Update writes fields into a document according to mode
func (r *PostgresDocumentRepository) Update(ctx context.Context, collection, id string, fields map[string]any, mode WriteMode) error {
	var (
		doc   Document
		found bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("collection = ? AND id = ?", collection, id).
			First(&doc).Error
		switch {
		case err == nil:
			found = true
		case errors.Is(err, gorm.ErrRecordNotFound):
			if mode == Patch {
				return ErrNotFound
			}
		default:
			return err
		}

		var base map[string]any
		if found && mode != Replace {
			base = map[string]any(doc.Fields)
		}
		doc.Collection, doc.ID = collection, id
		doc.Fields = datatypes.JSONMap(ApplyFields(base, fields, r.now()))

		if found {
			return tx.Save(&doc).Error
		}
		return tx.Create(&doc).Error
	})
	if err != nil {
		return fmt.Errorf("failed to %s %s/%s: %w", mode, collection, id, classifyPostgres(err))
	}

	kind := models.Modified
	if !found {
		kind = models.Added
	}
	r.publish(ctx, collection, models.Change{Kind: kind, EntityID: id, Payload: doc.Fields})
	return nil
}

// Delete removes a document row
func (r *PostgresDocumentRepository) Delete(ctx context.Context, collection, id string) error {
	res := r.db.WithContext(ctx).Where("collection = ? AND id = ?", collection, id).Delete(&Document{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, classifyPostgres(res.Error))
	}
	if res.RowsAffected > 0 {
		r.publish(ctx, collection, models.Change{Kind: models.Removed, EntityID: id})
	}
	return nil
}

// Get retrieves a document row
func (r *PostgresDocumentRepository) Get(ctx context.Context, collection, id string) (models.RawDocument, error) {
	var doc Document
	err := r.db.WithContext(ctx).Where("collection = ? AND id = ?", collection, id).First(&doc).Error
	if err != nil {
		return models.RawDocument{}, fmt.Errorf("failed to get %s/%s: %w", collection, id, classifyPostgres(err))
	}
	return models.RawDocument{ID: doc.ID, Fields: doc.Fields}, nil
}

// Find runs a one-shot query over the JSONB fields. It seeds NATS-backed subscriptions.
func (r *PostgresDocumentRepository) Find(ctx context.Context, query feed.Query) ([]models.RawDocument, error) {
	tx := r.db.WithContext(ctx).Where("collection = ?", query.Collection)
	for _, f := range query.Filters {
		switch f.Op {
		case feed.OpIn:
			values := lo.Map(toAnySlice(f.Value), func(v any, _ int) string { return fmt.Sprint(v) })
			tx = tx.Where("fields ->> ? IN ?", f.Field, values)
		default:
			tx = tx.Where("fields ->> ? = ?", f.Field, fmt.Sprint(f.Value))
		}
	}

	var rows []Document
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", query.Key(), classifyPostgres(err))
	}

	docs := lo.Map(rows, func(row Document, _ int) models.RawDocument {
		return models.RawDocument{ID: row.ID, Fields: row.Fields}
	})
	query.Sort(docs)
	return docs, nil
}

func (r *PostgresDocumentRepository) publish(ctx context.Context, collection string, change models.Change) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, collection, change); err != nil {
		r.logger.Warn().Err(err).Str("collection", collection).Str("id", change.EntityID).Msg("failed to publish change")
	}
}

func classifyPostgres(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, driver.ErrBadConn), errors.As(err, &netErr):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		return err
	}
}
