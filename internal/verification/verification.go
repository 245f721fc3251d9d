// Package verification scores generated answers against their retrieval
// context. All checks are lexical and deterministic; nothing here calls a
// model.
package verification

import (
	"regexp"
	"strings"

	"github.com/veridoc/veridoc/internal/chunk"
	"github.com/veridoc/veridoc/internal/log"
	"github.com/veridoc/veridoc/internal/vectorstore"
)

// Scoring constants.
const (
	// sentenceSupportThreshold is the minimum similarity ratio between an
	// answer sentence and some chunk for the sentence to count as grounded.
	sentenceSupportThreshold = 0.6

	// negationPenalty is subtracted per negation marker that appears in the
	// answer but nowhere in the context.
	negationPenalty = 0.2

	// maxEvidence caps the evidence list.
	maxEvidence = 3

	// excerptLength is the evidence excerpt size in characters.
	excerptLength = 200

	// highlightMinLength is the minimum answer word length worth
	// highlighting in excerpts.
	highlightMinLength = 4

	// DefaultConfidenceThreshold applies when NewVerifier gets a
	// non-positive threshold.
	DefaultConfidenceThreshold = 0.7
)

// negationMarkers flag potential contradictions. The trailing space avoids
// matching inside words such as "notable" or "cannotate".
var negationMarkers = []string{"no ", "not ", "never ", "cannot"}

// Evidence points at a context chunk supporting the answer. BBox carries
// the chunk's page position when the extraction layer provided one.
type Evidence struct {
	ChunkID    string      `json:"chunk_id"`
	Document   string      `json:"document"`
	PageNumber int         `json:"page_number"`
	Excerpt    string      `json:"excerpt"`
	Score      float64     `json:"score"`
	BBox       *chunk.BBox `json:"bbox,omitempty"`
}

// Result is the verification verdict. All component scores are in [0, 1].
// Verified reports that the checks ran; MeetsThreshold carries the actual
// pass/fail judgment against the confidence threshold.
type Result struct {
	Verified       bool       `json:"verified"`
	Confidence     float64    `json:"confidence_score"`
	MeetsThreshold bool       `json:"meets_threshold"`
	Grounding      float64    `json:"grounding_score"`
	Consistency    float64    `json:"consistency_score"`
	Relevance      float64    `json:"relevance_score"`
	Evidence       []Evidence `json:"evidence,omitempty"`
}

// Verifier checks answers against retrieval context.
type Verifier struct {
	threshold float64
	logger    log.Logger
}

// NewVerifier creates a Verifier. A non-positive threshold falls back to
// DefaultConfidenceThreshold.
func NewVerifier(threshold float64, logger log.Logger) *Verifier {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Verifier{threshold: threshold, logger: logger}
}

// Verify scores the answer on grounding, consistency, and relevance;
// confidence is their mean and MeetsThreshold reports whether confidence
// reached the configured threshold.
func (v *Verifier) Verify(query, answer string, chunks []vectorstore.Result) Result {
	grounding := v.grounding(answer, chunks)
	consistency := v.consistency(answer, chunks)
	relevance := ratio(strings.ToLower(answer), strings.ToLower(query))

	confidence := (grounding + consistency + relevance) / 3

	result := Result{
		Verified:       true,
		Confidence:     confidence,
		MeetsThreshold: confidence >= v.threshold,
		Grounding:      grounding,
		Consistency:    consistency,
		Relevance:      relevance,
		Evidence:       buildEvidence(answer, chunks),
	}

	v.logger.Debug("answer verified",
		"confidence", confidence,
		"grounding", grounding,
		"consistency", consistency,
		"relevance", relevance,
		"meets_threshold", result.MeetsThreshold)
	return result
}

// grounding is the fraction of answer sentences supported by some chunk.
func (v *Verifier) grounding(answer string, chunks []vectorstore.Result) float64 {
	sentences := splitSentences(answer)
	if len(sentences) == 0 {
		return 0
	}

	supported := 0
	for _, sentence := range sentences {
		lower := strings.ToLower(sentence)
		for _, c := range chunks {
			if ratio(lower, strings.ToLower(c.Chunk.Content)) > sentenceSupportThreshold {
				supported++
				break
			}
		}
	}
	return float64(supported) / float64(len(sentences))
}

// consistency penalizes negation markers present in the answer but absent
// from the entire context, floored at zero.
func (v *Verifier) consistency(answer string, chunks []vectorstore.Result) float64 {
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(strings.ToLower(c.Chunk.Content))
		sb.WriteString(" ")
	}
	context := sb.String()
	lowerAnswer := strings.ToLower(answer)

	score := 1.0
	for _, marker := range negationMarkers {
		if strings.Contains(lowerAnswer, marker) && !strings.Contains(context, marker) {
			score -= negationPenalty
		}
	}
	if score < 0 {
		return 0
	}
	return score
}

// buildEvidence returns excerpts of the top chunks with answer terms
// highlighted.
func buildEvidence(answer string, chunks []vectorstore.Result) []Evidence {
	n := min(len(chunks), maxEvidence)
	if n == 0 {
		return nil
	}

	evidence := make([]Evidence, 0, n)
	for _, c := range chunks[:n] {
		evidence = append(evidence, Evidence{
			ChunkID:    c.Chunk.ID,
			Document:   c.Chunk.Document,
			PageNumber: c.Chunk.PageNumber,
			Excerpt:    highlight(excerpt(c.Chunk.Content), answer),
			Score:      c.Score,
			BBox:       c.Chunk.BBox,
		})
	}
	return evidence
}

// excerpt truncates content to the excerpt length on a rune boundary.
func excerpt(content string) string {
	runes := []rune(content)
	if len(runes) <= excerptLength {
		return content
	}
	return string(runes[:excerptLength]) + "..."
}

// highlight wraps occurrences of long answer words in **bold** markers.
func highlight(text, answer string) string {
	seen := make(map[string]bool)
	for _, word := range strings.Fields(answer) {
		word = strings.ToLower(strings.Trim(word, ".,;:!?()[]{}\"'"))
		if len([]rune(word)) <= highlightMinLength || seen[word] {
			continue
		}
		seen[word] = true

		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
		if err != nil {
			continue
		}
		text = re.ReplaceAllString(text, "**$0**")
	}
	return text
}

// splitSentences splits on ". " and drops empty fragments.
func splitSentences(text string) []string {
	var sentences []string
	for _, s := range strings.Split(text, ". ") {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// ratio is the Ratcliff-Obershelp similarity of two strings: twice the
// number of matching characters over the total length, in [0, 1].
func ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	return 2 * float64(matchingChars(ra, rb)) / float64(total)
}

// matchingChars counts matched characters by finding the longest common
// substring and recursing on the unmatched flanks.
func matchingChars(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	ai, bi, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}
	return size +
		matchingChars(a[:ai], b[:bi]) +
		matchingChars(a[ai+size:], b[bi+size:])
}

// longestCommonSubstring returns the start offsets and length of the longest
// run of runes common to a and b.
func longestCommonSubstring(a, b []rune) (ai, bi, size int) {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > size {
					size = curr[j]
					ai = i - size
					bi = j - size
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return ai, bi, size
}
