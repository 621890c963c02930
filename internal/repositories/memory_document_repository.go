package repositories

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anonto42/nano-midea/livefeed/internal/feed"
	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/google/uuid"
)

// MemoryDocumentRepository keeps documents in process. It backs feed.MemorySource and tests.
type MemoryDocumentRepository struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
	watchers    map[string]map[int]func(models.Change)
	nextWatcher int
	now         func() time.Time
}

// NewMemoryDocumentRepository creates an empty MemoryDocumentRepository
func NewMemoryDocumentRepository() *MemoryDocumentRepository {
	return &MemoryDocumentRepository{
		collections: make(map[string]map[string]map[string]any),
		watchers:    make(map[string]map[int]func(models.Change)),
		now:         time.Now,
	}
}

// Create stores a new document under a generated id
func (r *MemoryDocumentRepository) Create(_ context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()

	doc := ApplyFields(nil, fields, r.now())
	r.collection(collection)[id] = doc
	r.notify(collection, models.Change{Kind: models.Added, EntityID: id, Payload: cloneFields(doc)})
	return id, nil
}

// Update writes fields into the document according to mode
func (r *MemoryDocumentRepository) Update(_ context.Context, collection, id string, fields map[string]any, mode WriteMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs := r.collection(collection)
	existing, ok := docs[id]
	if !ok && mode == Patch {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}

	var doc map[string]any
	if mode == Replace || !ok {
		doc = ApplyFields(nil, fields, r.now())
	} else {
		doc = ApplyFields(cloneFields(existing), fields, r.now())
	}
	docs[id] = doc

	kind := models.Modified
	if !ok {
		kind = models.Added
	}
	r.notify(collection, models.Change{Kind: kind, EntityID: id, Payload: cloneFields(doc)})
	return nil
}

// Delete removes a document. Deleting a missing document is not an error.
func (r *MemoryDocumentRepository) Delete(_ context.Context, collection, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs := r.collection(collection)
	if _, ok := docs[id]; !ok {
		return nil
	}
	delete(docs, id)
	r.notify(collection, models.Change{Kind: models.Removed, EntityID: id})
	return nil
}

// Get returns a copy of a document
func (r *MemoryDocumentRepository) Get(_ context.Context, collection, id string) (models.RawDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.collections[collection][id]
	if !ok {
		return models.RawDocument{}, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	return models.RawDocument{ID: id, Fields: cloneFields(doc)}, nil
}

// Find returns copies of the documents matching query, in query order
func (r *MemoryDocumentRepository) Find(_ context.Context, query feed.Query) ([]models.RawDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.RawDocument
	for id, doc := range r.collections[query.Collection] {
		if query.Matches(doc) {
			out = append(out, models.RawDocument{ID: id, Fields: cloneFields(doc)})
		}
	}
	query.Sort(out)
	return out, nil
}

// Watch calls fn with every write to collection, in write order, until canceled.
// fn runs under the repository lock and must not block or call back into it.
func (r *MemoryDocumentRepository) Watch(collection string, fn func(models.Change)) func() {
	r.mu.Lock()
	r.nextWatcher++
	id := r.nextWatcher
	if r.watchers[collection] == nil {
		r.watchers[collection] = make(map[int]func(models.Change))
	}
	r.watchers[collection][id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.watchers[collection], id)
			r.mu.Unlock()
		})
	}
}

func (r *MemoryDocumentRepository) collection(name string) map[string]map[string]any {
	docs, ok := r.collections[name]
	if !ok {
		docs = make(map[string]map[string]any)
		r.collections[name] = docs
	}
	return docs
}

func (r *MemoryDocumentRepository) notify(collection string, change models.Change) {
	for _, fn := range r.watchers[collection] {
		fn(change)
	}
}
