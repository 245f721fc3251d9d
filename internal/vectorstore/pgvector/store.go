// Package pgvector implements the vectorstore contract on PostgreSQL with
// the pgvector extension.
package pgvector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvec "github.com/pgvector/pgvector-go"

	"github.com/veridoc/veridoc/internal/chunk"
	"github.com/veridoc/veridoc/internal/log"
	"github.com/veridoc/veridoc/internal/vectorstore"
)

// Compile-time contract check.
var _ vectorstore.Store = (*Store)(nil)

const (
	searchTimeout = 10 * time.Second
	upsertTimeout = 30 * time.Second
)

const upsertChunkSQL = `INSERT INTO chunks (id, document, content, page_number, chunk_index, bbox, embedding)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE SET
		content = EXCLUDED.content,
		page_number = EXCLUDED.page_number,
		chunk_index = EXCLUDED.chunk_index,
		bbox = EXCLUDED.bbox,
		embedding = EXCLUDED.embedding`

// Store persists chunks in the chunks table.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a pgvector-backed chunk store.
func NewStore(pool *pgxpool.Pool, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Upsert writes chunks and their embeddings in a single transaction, so a
// failed ingest never leaves a document half-indexed.
func (s *Store) Upsert(ctx context.Context, chunks []chunk.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("chunk/embedding count mismatch: %d != %d", len(chunks), len(embeddings))
	}
	if len(chunks) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, upsertTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i, ch := range chunks {
		var bbox []byte
		if ch.BBox != nil {
			bbox, err = json.Marshal(ch.BBox)
			if err != nil {
				return fmt.Errorf("marshaling bbox for chunk %s: %w", ch.ID, err)
			}
		}
		if _, err := tx.Exec(ctx, upsertChunkSQL,
			ch.ID, ch.Document, ch.Content, ch.PageNumber, ch.Index, bbox,
			pgvec.NewVector(embeddings[i]),
		); err != nil {
			return fmt.Errorf("upserting chunk %s: %w", ch.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing upsert: %w", err)
	}

	s.logger.Debug("chunks upserted", "count", len(chunks), "document", chunks[0].Document)
	return nil
}

// Search returns the chunks nearest to the query embedding, ordered by
// descending cosine similarity.
func (s *Store) Search(ctx context.Context, embedding []float32, opts ...vectorstore.SearchOption) ([]vectorstore.Result, error) {
	resolved := vectorstore.ResolveSearchOptions(opts...)

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	vec := pgvec.NewVector(embedding)

	var rows pgx.Rows
	var err error
	if len(resolved.Documents) > 0 {
		rows, err = s.pool.Query(ctx,
			`SELECT id, document, content, page_number, chunk_index, bbox,
				1 - (embedding <=> $1) AS score
			 FROM chunks
			 WHERE document = ANY($2)
			 ORDER BY embedding <=> $1
			 LIMIT $3`,
			vec, resolved.Documents, resolved.Limit,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT id, document, content, page_number, chunk_index, bbox,
				1 - (embedding <=> $1) AS score
			 FROM chunks
			 ORDER BY embedding <=> $1
			 LIMIT $2`,
			vec, resolved.Limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var results []vectorstore.Result
	for rows.Next() {
		var r vectorstore.Result
		var bbox []byte
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.Document, &r.Chunk.Content,
			&r.Chunk.PageNumber, &r.Chunk.Index, &bbox, &r.Score); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		if len(bbox) > 0 {
			var b chunk.BBox
			if err := json.Unmarshal(bbox, &b); err != nil {
				return nil, fmt.Errorf("unmarshaling bbox for chunk %s: %w", r.Chunk.ID, err)
			}
			r.Chunk.BBox = &b
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunk rows: %w", err)
	}

	return results, nil
}

// Delete removes the chunks with the given IDs.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	s.logger.Debug("chunks deleted", "requested", len(ids), "deleted", tag.RowsAffected())
	return nil
}

// DeleteDocument removes every chunk belonging to the document.
func (s *Store) DeleteDocument(ctx context.Context, document string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE document = $1`, document)
	if err != nil {
		return fmt.Errorf("deleting document chunks: %w", err)
	}
	s.logger.Debug("document chunks deleted", "document", document, "deleted", tag.RowsAffected())
	return nil
}

// HasDocument reports whether any chunks exist for the document.
func (s *Store) HasDocument(ctx context.Context, document string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chunks WHERE document = $1)`, document,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking document existence: %w", err)
	}
	return exists, nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
