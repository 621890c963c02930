package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anonto42/nano-midea/livefeed/internal/models"
	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Loader runs a one-shot query; it provides the initial result of a NATS-backed subscription.
type Loader interface {
	Find(ctx context.Context, query Query) ([]models.RawDocument, error)
}

type wireChange struct {
	Kind   string         `json:"kind"`
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Subject returns the NATS subject carrying writes to a collection path.
func Subject(prefix, collection string) string {
	return prefix + "." + strings.ReplaceAll(collection, "/", ".")
}

// EncodeChange renders a store write as a NATS payload. Times are sent as RFC 3339 strings.
func EncodeChange(change models.Change) ([]byte, error) {
	fields := make(map[string]any, len(change.Payload))
	for key, value := range change.Payload {
		if t, ok := value.(time.Time); ok {
			value = t.UTC().Format(time.RFC3339Nano)
		}
		fields[key] = value
	}
	return json.Marshal(wireChange{Kind: change.Kind.String(), ID: change.EntityID, Fields: fields})
}

// DecodeChange parses a payload produced by EncodeChange.
func DecodeChange(data []byte) (models.Change, error) {
	var wire wireChange
	if err := json.Unmarshal(data, &wire); err != nil {
		return models.Change{}, err
	}

	change := models.Change{EntityID: wire.ID, Payload: wire.Fields}
	switch wire.Kind {
	case models.Added.String():
		change.Kind = models.Added
	case models.Modified.String():
		change.Kind = models.Modified
	case models.Removed.String():
		change.Kind = models.Removed
		change.Payload = nil
	default:
		return models.Change{}, fmt.Errorf("unknown change kind %q", wire.Kind)
	}
	return change, nil
}

// NATSPublisher announces store writes on NATS.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSPublisher(conn *nats.Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Publish sends one write to the collection's subject.
func (p *NATSPublisher) Publish(_ context.Context, collection string, change models.Change) error {
	payload, err := EncodeChange(change)
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}
	if err := p.conn.Publish(Subject(p.prefix, collection), payload); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}

// NATSSource serves live queries from writes announced on NATS, seeded by a Loader.
type NATSSource struct {
	conn   *nats.Conn
	prefix string
	loader Loader
	logger zerolog.Logger
}

func NewNATSSource(conn *nats.Conn, prefix string, loader Loader, logger zerolog.Logger) *NATSSource {
	return &NATSSource{
		conn:   conn,
		prefix: prefix,
		loader: loader,
		logger: logger.With().Str("component", "feed").Str("source", "nats").Logger(),
	}
}

func (n *NATSSource) Subscribe(ctx context.Context, query Query, handler Handler) (Subscription, error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := newSubscription(cancel, query, handler)
	box := newMailbox()
	logger := n.logger.With().Str("query", query.Key()).Logger()

	natsSub, err := n.conn.Subscribe(Subject(n.prefix, query.Collection), func(msg *nats.Msg) {
		change, err := DecodeChange(msg.Data)
		if err != nil {
			logger.Warn().Err(err).Msg("skipping undecodable change")
			return
		}
		box.push([]models.Change{change})
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe %s: %w", query.Key(), err)
	}
	sub.onClose = func() { _ = natsSub.Unsubscribe() }

	docs, err := n.loader.Find(ctx, query)
	if err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("failed to load %s: %w", query.Key(), err)
	}
	box.prepend(initialBatch(query, docs))

	go box.run(runCtx, sub.deliver)

	logger.Debug().Int("initial", len(docs)).Msg("subscribed")
	return sub, nil
}
