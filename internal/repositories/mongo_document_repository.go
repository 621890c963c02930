package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anonto42/nano-midea/livefeed/internal/feed"
	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDocumentRepository implements DocumentRepository for MongoDB. Generated ids are
// ObjectIDs; documents written under a caller id such as a like marker keep a string _id.
type MongoDocumentRepository struct {
	db  *mongo.Database
	now func() time.Time
}

// NewMongoDocumentRepository creates a new MongoDocumentRepository
func NewMongoDocumentRepository(db *mongo.Database) *MongoDocumentRepository {
	return &MongoDocumentRepository{db: db, now: time.Now}
}

func (r *MongoDocumentRepository) collection(path string) *mongo.Collection {
	return r.db.Collection(feed.MongoCollectionName(path))
}

// Create inserts a new document in MongoDB
func (r *MongoDocumentRepository) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := primitive.NewObjectID()
	doc := ApplyFields(nil, fields, r.now())
	doc["_id"] = id

	if _, err := r.collection(collection).InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("failed to create document in %s: %w", collection, classifyMongo(err))
	}
	return id.Hex(), nil
}

// Update writes fields into a document according to mode
func (r *MongoDocumentRepository) Update(ctx context.Context, collection, id string, fields map[string]any, mode WriteMode) error {
	coll := r.collection(collection)

	if mode == Replace {
		doc := ApplyFields(nil, fields, r.now())
		_, err := coll.ReplaceOne(ctx, idFilter(id), doc, options.Replace().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("failed to replace %s/%s: %w", collection, id, classifyMongo(err))
		}
		return nil
	}

	res, err := coll.UpdateOne(ctx, idFilter(id), mongoUpdate(fields, r.now()), options.Update().SetUpsert(mode == Merge))
	if err != nil {
		return fmt.Errorf("failed to %s %s/%s: %w", mode, collection, id, classifyMongo(err))
	}
	if mode == Patch && res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	return nil
}

// Delete removes a document from MongoDB
func (r *MongoDocumentRepository) Delete(ctx context.Context, collection, id string) error {
	if _, err := r.collection(collection).DeleteOne(ctx, idFilter(id)); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, classifyMongo(err))
	}
	return nil
}

// Find runs a one-shot query over a MongoDB collection
func (r *MongoDocumentRepository) Find(ctx context.Context, query feed.Query) ([]models.RawDocument, error) {
	cursor, err := r.collection(query.Collection).Find(ctx, feed.MongoFilter(query))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", query.Key(), classifyMongo(err))
	}

	var found []bson.M
	if err := cursor.All(ctx, &found); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", query.Key(), classifyMongo(err))
	}

	docs := make([]models.RawDocument, 0, len(found))
	for _, doc := range found {
		docs = append(docs, feed.MongoDocument(doc))
	}
	query.Sort(docs)
	return docs, nil
}

// Get retrieves a document by ID from MongoDB
func (r *MongoDocumentRepository) Get(ctx context.Context, collection, id string) (models.RawDocument, error) {
	var doc bson.M
	if err := r.collection(collection).FindOne(ctx, idFilter(id)).Decode(&doc); err != nil {
		return models.RawDocument{}, fmt.Errorf("failed to get %s/%s: %w", collection, id, classifyMongo(err))
	}
	return feed.MongoDocument(doc), nil
}

// idFilter keys hex ids as ObjectIDs, which is what Create generates.
func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": oid}
	}
	return bson.M{"_id": id}
}

func mongoUpdate(fields map[string]any, now time.Time) bson.M {
	set := bson.M{}
	addToSet := bson.M{}
	pull := bson.M{}
	for key, value := range fields {
		switch v := value.(type) {
		case serverTimestamp:
			set[key] = now
		case arrayUnion:
			addToSet[key] = bson.M{"$each": v.values}
		case arrayRemove:
			pull[key] = bson.M{"$in": v.values}
		default:
			set[key] = value
		}
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(addToSet) > 0 {
		update["$addToSet"] = addToSet
	}
	if len(pull) > 0 {
		update["$pull"] = pull
	}
	return update
}

func classifyMongo(err error) error {
	var cmdErr mongo.CommandError
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case mongo.IsTimeout(err), mongo.IsNetworkError(err), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	case errors.As(err, &cmdErr) && (cmdErr.Code == 13 || cmdErr.Code == 18):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	default:
		return err
	}
}
