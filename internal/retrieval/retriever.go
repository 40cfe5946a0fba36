package retrieval

import "context"

// Chunk is one retrieved unit of source material relevant to a
// question.
type Chunk struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

// Retriever returns the top-k most relevant knowledge chunks for a
// question. An empty result is a valid answer meaning "nothing in the
// index covers this".
type Retriever interface {
	RelevantChunks(ctx context.Context, question string, topK int) ([]Chunk, error)
}

// None is the retriever used when no index is configured; every
// question misses, so the orchestrator answers "I don't know".
type None struct{}

func (None) RelevantChunks(context.Context, string, int) ([]Chunk, error) {
	return nil, nil
}
