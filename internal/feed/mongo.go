package feed

import (
	"context"
	"fmt"

	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSource serves live queries from a MongoDB change stream. Collection paths such as
// posts/{id}/likes map to collection names with dots.
type MongoSource struct {
	db     *mongo.Database
	logger zerolog.Logger
}

func NewMongoSource(db *mongo.Database, logger zerolog.Logger) *MongoSource {
	return &MongoSource{
		db:     db,
		logger: logger.With().Str("component", "feed").Str("source", "mongo").Logger(),
	}
}

type changeEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID any `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument bson.M `bson:"fullDocument"`
}

// MongoFilter converts the query filters into a MongoDB filter document.
func MongoFilter(q Query) bson.M {
	filter := bson.M{}
	for _, f := range q.Filters {
		switch f.Op {
		case OpIn:
			filter[f.Field] = bson.M{"$in": toSlice(f.Value)}
		default:
			filter[f.Field] = f.Value
		}
	}
	return filter
}

// MongoCollectionName maps a collection path onto a MongoDB collection name.
func MongoCollectionName(path string) string {
	out := []byte(path)
	for i, c := range out {
		if c == '/' {
			out[i] = '.'
		}
	}
	return string(out)
}

// Subscribe opens the change stream first and then runs the initial find, so the
// stream covers every write after the snapshot.
func (m *MongoSource) Subscribe(ctx context.Context, query Query, handler Handler) (Subscription, error) {
	coll := m.db.Collection(MongoCollectionName(query.Collection))
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"operationType": bson.M{"$in": bson.A{"insert", "update", "replace", "delete"}}}}},
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := coll.Watch(runCtx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch %s: %w", query.Key(), err)
	}

	cursor, err := coll.Find(ctx, MongoFilter(query))
	if err != nil {
		cancel()
		_ = stream.Close(context.Background())
		return nil, fmt.Errorf("failed to load %s: %w", query.Key(), err)
	}
	var found []bson.M
	if err := cursor.All(ctx, &found); err != nil {
		cancel()
		_ = stream.Close(context.Background())
		return nil, fmt.Errorf("failed to decode %s: %w", query.Key(), err)
	}

	docs := make([]models.RawDocument, 0, len(found))
	for _, doc := range found {
		docs = append(docs, MongoDocument(doc))
	}

	sub := newSubscription(cancel, query, handler)
	logger := m.logger.With().Str("query", query.Key()).Logger()

	go func() {
		defer stream.Close(context.Background())

		sub.deliver(initialBatch(query, docs))
		for stream.Next(runCtx) {
			var event changeEvent
			if err := stream.Decode(&event); err != nil {
				logger.Warn().Err(err).Msg("skipping undecodable change event")
				continue
			}
			id := normalizeID(event.DocumentKey.ID)
			if event.OperationType == "delete" || event.FullDocument == nil {
				sub.deliver([]models.Change{{Kind: models.Removed, EntityID: id}})
				continue
			}
			doc := MongoDocument(event.FullDocument)
			sub.deliver([]models.Change{{Kind: models.Modified, EntityID: doc.ID, Payload: doc.Fields}})
		}
		if err := stream.Err(); err != nil && runCtx.Err() == nil {
			logger.Error().Err(err).Msg("change stream failed")
		}
	}()

	logger.Debug().Int("initial", len(docs)).Msg("subscribed")
	return sub, nil
}

// MongoDocument converts a decoded MongoDB document into a raw document with plain Go values.
func MongoDocument(doc bson.M) models.RawDocument {
	fields := make(map[string]any, len(doc))
	for key, value := range doc {
		if key == "_id" {
			continue
		}
		fields[key] = normalizeValue(value)
	}
	return models.RawDocument{ID: normalizeID(doc["_id"]), Fields: fields}
}

func normalizeID(id any) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case primitive.DateTime:
		return v.Time()
	case primitive.ObjectID:
		return v.Hex()
	case primitive.A:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeValue(item)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(v))
		for _, e := range v {
			out[e.Key] = normalizeValue(e.Value)
		}
		return out
	case primitive.M:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}
