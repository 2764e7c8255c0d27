package workflow

import "context"

// Chunk is a ranked source passage returned by the retrieval engine.
type Chunk struct {
	Id        string  `json:"id"`
	Text      string  `json:"text"`
	Relevance float64 `json:"relevance"`
}

// Retriever is the retrieval engine contract. The engine's internals
// (chunking, embeddings, ranking) live in a separate service; this backend
// only consumes ranked chunks for a section description. Timeouts and retries
// are the engine's responsibility — any error here is handled as a
// per-section failure with no orchestrator retry.
type Retriever interface {
	RetrieveChunks(ctx context.Context, query string, limit int) ([]Chunk, error)
}
