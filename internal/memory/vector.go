package memory

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog"
)

// VectorStore wraps an embedded chromem database. Each namespace gets its
// own collection, so a query can never see another namespace's records —
// cross-namespace leakage is a correctness bug, not a tuning concern.
type VectorStore struct {
	db     *chromem.DB
	embed  chromem.EmbeddingFunc
	logger zerolog.Logger
}

// Hit is one semantic search result.
type Hit struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]string
}

// NewVectorStore opens (or creates) a persistent chromem database at dir.
func NewVectorStore(dir string, embed chromem.EmbeddingFunc, logger zerolog.Logger) (*VectorStore, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}
	return &VectorStore{
		db:     db,
		embed:  embed,
		logger: logger.With().Str("component", "vector_store").Logger(),
	}, nil
}

// NewOpenAICompatEmbedding returns an embedding function for any
// OpenAI-compatible /v1 endpoint.
func NewOpenAICompatEmbedding(baseURL, apiKey, model string) chromem.EmbeddingFunc {
	return chromem.NewEmbeddingFuncOpenAICompat(baseURL, apiKey, model, nil)
}

func (v *VectorStore) collection(namespace string) (*chromem.Collection, error) {
	c, err := v.db.GetOrCreateCollection("ns_"+namespace, nil, v.embed)
	if err != nil {
		return nil, fmt.Errorf("getting collection for %s: %w", namespace, err)
	}
	return c, nil
}

// Add stores one document in the namespace's collection.
func (v *VectorStore) Add(ctx context.Context, namespace, id, content string, metadata map[string]string) error {
	c, err := v.collection(namespace)
	if err != nil {
		return err
	}
	err = c.AddDocument(ctx, chromem.Document{
		ID:       id,
		Content:  content,
		Metadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("adding document: %w", err)
	}
	return nil
}

// Search returns the k most similar documents within the namespace's
// collection only.
func (v *VectorStore) Search(ctx context.Context, namespace, query string, k int) ([]Hit, error) {
	c, err := v.collection(namespace)
	if err != nil {
		return nil, err
	}

	if k <= 0 {
		k = 5
	}
	// chromem rejects nResults above the collection size.
	if count := c.Count(); k > count {
		k = count
	}
	if k == 0 {
		return nil, nil
	}

	results, err := c.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{
			ID:       r.ID,
			Content:  r.Content,
			Score:    r.Similarity,
			Metadata: r.Metadata,
		}
	}
	return hits, nil
}
