// Package vectorstore provides a ports.VectorStorePort implementation
// backed by chromem-go, a pure-Go embedded vector database: no external
// services, in-memory by default with optional gzip file persistence.
package vectorstore

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"fractal/internal/ports"
)

const collectionName = "l4-facts"

// ChromemStore implements ports.VectorStorePort over a single chromem-go
// collection. Embeddings are always supplied by the caller (the memory
// manager's configured EmbeddingPort), so the collection's own embedding
// function is never invoked; it exists only to satisfy chromem-go's API.
type ChromemStore struct {
	mu       sync.Mutex
	db       *chromem.DB
	col      *chromem.Collection
	path     string
	compress bool

	// recMu guards records, a side index of every upserted vector kept
	// only because chromem-go's Collection exposes similarity query and
	// single-ID delete but no whole-collection enumeration; All mirrors
	// it back out so L4 cluster compression (internal/memory/compression.go)
	// has something to enumerate against the real store, not just the
	// in-memory test fake.
	recMu   sync.Mutex
	records map[string]ports.VectorRecord
}

// Config configures a ChromemStore.
type Config struct {
	// PersistPath, if set, is a gob file chromem-go loads from and saves
	// to. An empty path keeps everything in memory for the run.
	PersistPath string
	Compress    bool
}

func identityEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("vectorstore: embedding function invoked, but vectors must be supplied pre-computed")
}

// New builds a ChromemStore, loading cfg.PersistPath if it exists.
func New(cfg Config) (*ChromemStore, error) {
	var db *chromem.DB
	if cfg.PersistPath != "" {
		loaded, err := chromem.NewPersistentDB(cfg.PersistPath, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: opening %s: %w", cfg.PersistPath, err)
		}
		db = loaded
	} else {
		db = chromem.NewDB()
	}

	col, err := db.GetOrCreateCollection(collectionName, nil, identityEmbed)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: creating collection: %w", err)
	}
	return &ChromemStore{db: db, col: col, path: cfg.PersistPath, compress: cfg.Compress, records: make(map[string]ports.VectorRecord)}, nil
}

func toStringMetadata(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func toAnyMetadata(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Upsert implements ports.VectorStorePort.
func (s *ChromemStore) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	content, _ := metadata["content"].(string)
	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Metadata:  toStringMetadata(metadata),
		Embedding: vector,
	}
	if err := s.col.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("vectorstore: upsert %s: %w", id, err)
	}

	recVector := append([]float32(nil), vector...)
	recMetadata := make(map[string]any, len(metadata))
	for k, v := range metadata {
		recMetadata[k] = v
	}
	s.recMu.Lock()
	s.records[id] = ports.VectorRecord{ID: id, Vector: recVector, Metadata: recMetadata}
	s.recMu.Unlock()

	return s.persist()
}

// Search implements ports.VectorStorePort.
func (s *ChromemStore) Search(ctx context.Context, vector []float32, topK int) ([]ports.VectorMatch, error) {
	n := topK
	if max := s.col.Count(); n > max {
		n = max
	}
	if n <= 0 {
		return nil, nil
	}
	results, err := s.col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}
	out := make([]ports.VectorMatch, len(results))
	for i, r := range results {
		metadata := toAnyMetadata(r.Metadata)
		if r.Content != "" {
			metadata["content"] = r.Content
		}
		out[i] = ports.VectorMatch{ID: r.ID, Score: float64(r.Similarity), Metadata: metadata}
	}
	return out, nil
}

// Delete implements ports.VectorStorePort.
func (s *ChromemStore) Delete(ctx context.Context, id string) error {
	if err := s.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("vectorstore: delete %s: %w", id, err)
	}

	s.recMu.Lock()
	delete(s.records, id)
	s.recMu.Unlock()

	return s.persist()
}

// Count implements ports.VectorStorePort.
func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	return s.col.Count(), nil
}

// All implements ports.VectorEnumerator by returning the side index
// populated in Upsert/Delete, since chromem-go's Collection has no
// enumeration call of its own to delegate to.
func (s *ChromemStore) All(ctx context.Context) ([]ports.VectorRecord, error) {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	out := make([]ports.VectorRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

func (s *ChromemStore) persist() error {
	if s.path == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Export(s.path, s.compress, ""); err != nil {
		return fmt.Errorf("vectorstore: persisting %s: %w", s.path, err)
	}
	return nil
}

var _ ports.VectorStorePort = (*ChromemStore)(nil)
var _ ports.VectorEnumerator = (*ChromemStore)(nil)
