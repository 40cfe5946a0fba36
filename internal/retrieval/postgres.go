package retrieval

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Embedder maps question text into the index's vector space. The
// generation backend usually provides this.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// PostgresRetriever queries a pgvector-backed knowledge index by
// cosine distance.
type PostgresRetriever struct {
	pool     *pgxpool.Pool
	embedder Embedder
}

func NewPostgresRetriever(ctx context.Context, databaseURL string, embedder Embedder, embeddingDim int) (*PostgresRetriever, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if embeddingDim <= 0 {
		embeddingDim = 1536
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS knowledge_chunks (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			embedding vector(%d)
		);`, embeddingDim),
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("init retrieval schema failed on %q: %w", stmt, err)
		}
	}
	return &PostgresRetriever{pool: pool, embedder: embedder}, nil
}

func (r *PostgresRetriever) RelevantChunks(ctx context.Context, question string, topK int) ([]Chunk, error) {
	if topK <= 0 {
		topK = 3
	}
	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT content, source FROM knowledge_chunks
		 ORDER BY embedding <=> $1 LIMIT $2`,
		pgvector.NewVector(vec),
		topK,
	)
	if err != nil {
		return nil, fmt.Errorf("query knowledge chunks: %w", err)
	}
	defer rows.Close()

	chunks := make([]Chunk, 0, topK)
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.Content, &c.Source); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk rows: %w", err)
	}
	return chunks, nil
}

func (r *PostgresRetriever) Close() error {
	r.pool.Close()
	return nil
}
