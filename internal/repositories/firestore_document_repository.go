package repositories

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/anonto42/nano-midea/livefeed/internal/feed"
	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreDocumentRepository implements DocumentRepository for Cloud Firestore
type FirestoreDocumentRepository struct {
	client *firestore.Client
}

// NewFirestoreDocumentRepository creates a new FirestoreDocumentRepository
func NewFirestoreDocumentRepository(client *firestore.Client) *FirestoreDocumentRepository {
	return &FirestoreDocumentRepository{client: client}
}

// Create adds a document with a Firestore-generated id
func (r *FirestoreDocumentRepository) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	ref, _, err := r.client.Collection(collection).Add(ctx, firestoreFields(fields))
	if err != nil {
		return "", fmt.Errorf("failed to create document in %s: %w", collection, classifyFirestore(err))
	}
	return ref.ID, nil
}

// Update writes fields into a document according to mode
func (r *FirestoreDocumentRepository) Update(ctx context.Context, collection, id string, fields map[string]any, mode WriteMode) error {
	ref := r.client.Collection(collection).Doc(id)

	var err error
	switch mode {
	case Replace:
		_, err = ref.Set(ctx, firestoreFields(fields))
	case Patch:
		updates := make([]firestore.Update, 0, len(fields))
		for path, value := range firestoreFields(fields) {
			updates = append(updates, firestore.Update{Path: path, Value: value})
		}
		_, err = ref.Update(ctx, updates)
	default:
		_, err = ref.Set(ctx, firestoreFields(fields), firestore.MergeAll)
	}
	if err != nil {
		return fmt.Errorf("failed to %s %s/%s: %w", mode, collection, id, classifyFirestore(err))
	}
	return nil
}

// Delete removes a document
func (r *FirestoreDocumentRepository) Delete(ctx context.Context, collection, id string) error {
	if _, err := r.client.Collection(collection).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, classifyFirestore(err))
	}
	return nil
}

// Get reads a document
func (r *FirestoreDocumentRepository) Get(ctx context.Context, collection, id string) (models.RawDocument, error) {
	snap, err := r.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		return models.RawDocument{}, fmt.Errorf("failed to get %s/%s: %w", collection, id, classifyFirestore(err))
	}
	return models.RawDocument{ID: snap.Ref.ID, Fields: snap.Data()}, nil
}

// Find runs a one-shot query
func (r *FirestoreDocumentRepository) Find(ctx context.Context, query feed.Query) ([]models.RawDocument, error) {
	it := feed.FirestoreQuery(r.client, query).Documents(ctx)
	defer it.Stop()

	var docs []models.RawDocument
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			query.Sort(docs)
			return docs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", query.Key(), classifyFirestore(err))
		}
		docs = append(docs, models.RawDocument{ID: snap.Ref.ID, Fields: snap.Data()})
	}
}

func firestoreFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		switch v := value.(type) {
		case serverTimestamp:
			out[key] = firestore.ServerTimestamp
		case arrayUnion:
			out[key] = firestore.ArrayUnion(v.values...)
		case arrayRemove:
			out[key] = firestore.ArrayRemove(v.values...)
		default:
			out[key] = value
		}
	}
	return out
}

func classifyFirestore(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case codes.PermissionDenied, codes.Unauthenticated:
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		return err
	}
}
