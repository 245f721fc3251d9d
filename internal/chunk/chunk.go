// Package chunk segments extracted document pages into overlapping,
// embeddable text chunks with page-level provenance.
package chunk

import (
	"fmt"
	"strings"

	"github.com/veridoc/veridoc/internal/log"
)

// BBox is a rectangle on a page in document coordinates.
type BBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Block is a positioned run of text on a page, as reported by the
// extraction layer.
type Block struct {
	Text string `json:"text"`
	BBox BBox   `json:"bbox"`
}

// Page is one extracted document page.
type Page struct {
	Number int     `json:"number"` // 1-based page number
	Text   string  `json:"text"`
	Blocks []Block `json:"blocks,omitempty"` // optional; enables bounding-box attribution
}

// Chunk is an embeddable segment of a document page.
type Chunk struct {
	ID         string `json:"id"`
	Document   string `json:"document"`
	Content    string `json:"content"`
	PageNumber int    `json:"page_number"`
	Index      int    `json:"chunk_index"`
	BBox       *BBox  `json:"bbox,omitempty"` // best effort, nil when unattributable
}

// Config controls segmentation.
type Config struct {
	Size     int // window size in characters
	Overlap  int // characters shared between adjacent windows
	MinChars int // discard chunks shorter than this after trimming
}

// Defaults applied by NewChunker for zero-valued fields.
const (
	DefaultSize     = 500
	DefaultOverlap  = 100
	DefaultMinChars = 50
)

// Chunker splits pages into overlapping windows.
type Chunker struct {
	cfg    Config
	logger log.Logger
}

// NewChunker creates a Chunker. Non-positive size or MinChars and negative
// overlap fall back to the package defaults; an overlap >= size is clamped
// so the window always advances.
func NewChunker(cfg Config, logger log.Logger) *Chunker {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = DefaultOverlap
	}
	if cfg.Overlap >= cfg.Size {
		cfg.Overlap = cfg.Size - 1
	}
	if cfg.MinChars <= 0 {
		cfg.MinChars = DefaultMinChars
	}
	return &Chunker{cfg: cfg, logger: logger}
}

// SplitPage segments a single page. Windows advance by size-overlap
// characters; chunks whose trimmed content is shorter than MinChars are
// discarded. Indices number the emitted chunks sequentially, so IDs carry
// no gaps.
func (c *Chunker) SplitPage(document string, page Page) []Chunk {
	runes := []rune(page.Text)
	stride := c.cfg.Size - c.cfg.Overlap

	var chunks []Chunk
	index := 0
	for start := 0; start < len(runes); start += stride {
		end := min(start+c.cfg.Size, len(runes))
		content := strings.TrimSpace(string(runes[start:end]))
		if len([]rune(content)) >= c.cfg.MinChars {
			chunks = append(chunks, Chunk{
				ID:         fmt.Sprintf("%s_p%d_c%d", document, page.Number, index),
				Document:   document,
				Content:    content,
				PageNumber: page.Number,
				Index:      index,
				BBox:       locateBBox(content, page.Blocks),
			})
			index++
		}
		if end == len(runes) {
			break
		}
	}

	return chunks
}

// SplitPages segments every page of a document in order.
func (c *Chunker) SplitPages(document string, pages []Page) []Chunk {
	var chunks []Chunk
	for _, page := range pages {
		chunks = append(chunks, c.SplitPage(document, page)...)
	}
	c.logger.Debug("document segmented",
		"document", document,
		"pages", len(pages),
		"chunks", len(chunks))
	return chunks
}

// locateBBox attributes a chunk to the first page block containing any of
// the chunk's opening five words. Returns nil when no block matches.
func locateBBox(content string, blocks []Block) *BBox {
	if len(blocks) == 0 {
		return nil
	}

	words := strings.Fields(content)
	if len(words) > 5 {
		words = words[:5]
	}
	if len(words) == 0 {
		return nil
	}

	for _, block := range blocks {
		for _, word := range words {
			if strings.Contains(block.Text, word) {
				bbox := block.BBox
				return &bbox
			}
		}
	}
	return nil
}
