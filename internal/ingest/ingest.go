// Package ingest turns extracted document pages into embedded chunks in the
// vector store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veridoc/veridoc/internal/chunk"
	"github.com/veridoc/veridoc/internal/log"
	"github.com/veridoc/veridoc/internal/provider"
	"github.com/veridoc/veridoc/internal/vectorstore"
)

// Sentinel errors.
var (
	ErrEmptyDocument = errors.New("document has no name or no pages")
	ErrNoContent     = errors.New("document produced no chunks")
)

// DefaultBatchSize caps how many chunk texts go to the embedder per call.
const DefaultBatchSize = 64

// Document is a named set of extracted pages ready for indexing.
// Extraction itself (PDF parsing, OCR) happens upstream; this package only
// sees text and layout blocks.
type Document struct {
	Name  string       `json:"name"`
	Pages []chunk.Page `json:"pages"`
}

// Summary reports one ingestion run.
type Summary struct {
	IngestID string        `json:"ingest_id"`
	Document string        `json:"document"`
	Pages    int           `json:"pages"`
	Chunks   int           `json:"chunks"`
	Skipped  bool          `json:"skipped"` // document was already indexed
	Duration time.Duration `json:"duration"`
}

// Indexer chunks, embeds, and upserts documents.
type Indexer struct {
	chunker   *chunk.Chunker
	embedder  provider.Embedder
	store     vectorstore.Store
	batchSize int
	logger    log.Logger
}

// NewIndexer creates an Indexer. A non-positive batch size falls back to
// DefaultBatchSize.
func NewIndexer(chunker *chunk.Chunker, embedder provider.Embedder, store vectorstore.Store, batchSize int, logger log.Logger) *Indexer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Indexer{
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Index ingests one document. An already indexed document is skipped unless
// force is set; forcing clears the document's existing rows before writing,
// so a shorter re-ingest cannot leave stale higher-index chunks behind.
func (ix *Indexer) Index(ctx context.Context, doc Document, force bool) (Summary, error) {
	if doc.Name == "" || len(doc.Pages) == 0 {
		return Summary{}, ErrEmptyDocument
	}

	summary := Summary{
		IngestID: uuid.NewString(),
		Document: doc.Name,
		Pages:    len(doc.Pages),
	}
	start := time.Now()

	if force {
		if err := ix.store.DeleteDocument(ctx, doc.Name); err != nil {
			return Summary{}, fmt.Errorf("clearing document %q: %w", doc.Name, err)
		}
	} else {
		exists, err := ix.store.HasDocument(ctx, doc.Name)
		if err != nil {
			return Summary{}, fmt.Errorf("checking document %q: %w", doc.Name, err)
		}
		if exists {
			summary.Skipped = true
			summary.Duration = time.Since(start)
			ix.logger.Info("document already indexed, skipping",
				"ingest_id", summary.IngestID, "document", doc.Name)
			return summary, nil
		}
	}

	chunks := ix.chunker.SplitPages(doc.Name, doc.Pages)
	if len(chunks) == 0 {
		return Summary{}, fmt.Errorf("%w: %s", ErrNoContent, doc.Name)
	}
	summary.Chunks = len(chunks)

	embeddings, err := ix.embed(ctx, chunks)
	if err != nil {
		return Summary{}, fmt.Errorf("embedding %q: %w", doc.Name, err)
	}

	if err := ix.store.Upsert(ctx, chunks, embeddings); err != nil {
		return Summary{}, fmt.Errorf("upserting %q: %w", doc.Name, err)
	}

	summary.Duration = time.Since(start)
	ix.logger.Info("document indexed",
		"ingest_id", summary.IngestID,
		"document", doc.Name,
		"pages", summary.Pages,
		"chunks", summary.Chunks,
		"duration", summary.Duration)
	return summary, nil
}

// embed runs the chunk texts through the embedder in batches and returns
// vectors index-aligned with the chunks.
func (ix *Indexer) embed(ctx context.Context, chunks []chunk.Chunk) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(chunks))

	for start := 0; start < len(chunks); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		texts := make([]string, end-start)
		for i, c := range chunks[start:end] {
			texts[i] = c.Content
		}

		batch, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(batch), len(texts))
		}
		embeddings = append(embeddings, batch...)
	}

	return embeddings, nil
}
