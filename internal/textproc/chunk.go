package textproc

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Strategy selects how Chunk splits text.
type Strategy string

const (
	// StrategyParagraph splits on blank-line boundaries.
	StrategyParagraph Strategy = "paragraph"

	// StrategySentence splits on punctuation-followed-by-whitespace.
	StrategySentence Strategy = "sentence"

	// StrategyFixedSize splits into overlapping fixed-size windows.
	StrategyFixedSize Strategy = "fixed_size"
)

// IsValid reports whether the strategy is known.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyParagraph, StrategySentence, StrategyFixedSize:
		return true
	}
	return false
}

// minFragmentLen is the shortest paragraph fragment worth keeping.
// Anything shorter is formatting noise.
const minFragmentLen = 10

// Chunk is one embeddable span of text. Immutable after creation.
type Chunk struct {
	// Text is the exact chunk content.
	Text string

	// Index is the chunk's position within its document, starting at 0.
	Index int

	// StartChar and EndChar are byte offsets into the source text.
	StartChar int
	EndChar   int

	// ContentHash is the hex-encoded SHA-256 of Text. Two chunks with
	// identical text always hash identically regardless of position.
	ContentHash string

	// ConfidenceScore is the chunker's confidence in the split, in [0,1].
	ConfidenceScore float64

	// Metadata carries strategy-specific annotations.
	Metadata map[string]interface{}
}

// ChunkOptions configures SplitText.
type ChunkOptions struct {
	// Strategy selects the split algorithm. Default: StrategyParagraph.
	Strategy Strategy `json:"strategy,omitempty"`

	// Size is the window length in bytes for StrategyFixedSize.
	// Default: 512.
	Size int `json:"size,omitempty"`

	// Overlap is the window overlap in bytes for StrategyFixedSize.
	// Clamped to Size/4 when >= Size so windows always advance.
	// Default: 64.
	Overlap int `json:"overlap,omitempty"`
}

// ApplyDefaults fills unset options.
func (o *ChunkOptions) ApplyDefaults() {
	if o.Strategy == "" {
		o.Strategy = StrategyParagraph
	}
	if o.Size <= 0 {
		o.Size = 512
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	} else if o.Overlap == 0 {
		o.Overlap = 64
	}
	if o.Overlap >= o.Size {
		o.Overlap = o.Size / 4
	}
}

// HashText returns the hex-encoded SHA-256 of text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

var (
	blankLine        = regexp.MustCompile(`\n\s*\n`)
	sentenceBoundary = regexp.MustCompile(`[.!?]+(?:\s+|$)`)
)

// SplitText splits text into position-tracked chunks.
//
// Offsets are recovered by forward search from the last consumed offset,
// never backward, so repeated fragments keep distinct positions. The
// function terminates on arbitrary input, including empty and
// all-whitespace text, and may return an empty slice.
func SplitText(text string, opts ChunkOptions) []Chunk {
	opts.ApplyDefaults()

	if strings.TrimSpace(text) == "" {
		return nil
	}

	switch opts.Strategy {
	case StrategySentence:
		return splitSentences(text)
	case StrategyFixedSize:
		return splitFixed(text, opts.Size, opts.Overlap)
	default:
		return splitParagraphs(text)
	}
}

// newChunk builds a chunk for text[start:end], trimming outer whitespace
// while keeping offsets pointing at the trimmed span.
func newChunk(source string, index, start, end int) (Chunk, bool) {
	raw := source[start:end]
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Chunk{}, false
	}
	lead := strings.Index(raw, trimmed)
	start += lead
	end = start + len(trimmed)

	return Chunk{
		Text:            trimmed,
		Index:           index,
		StartChar:       start,
		EndChar:         end,
		ContentHash:     HashText(trimmed),
		ConfidenceScore: 1.0,
	}, true
}

func splitParagraphs(text string) []Chunk {
	var chunks []Chunk
	cursor := 0

	for _, frag := range blankLine.Split(text, -1) {
		trimmed := strings.TrimSpace(frag)
		if len(trimmed) < minFragmentLen {
			continue
		}

		// Forward search only: a paragraph repeated verbatim must map
		// to its own occurrence, not the first one.
		pos := strings.Index(text[cursor:], trimmed)
		if pos < 0 {
			continue
		}
		start := cursor + pos
		end := start + len(trimmed)
		cursor = end

		if c, ok := newChunk(text, len(chunks), start, end); ok {
			chunks = append(chunks, c)
		}
	}
	return chunks
}

func splitSentences(text string) []Chunk {
	var chunks []Chunk
	cursor := 0

	boundaries := sentenceBoundary.FindAllStringIndex(text, -1)
	prev := 0
	emit := func(start, end int) {
		if start >= end {
			return
		}
		if c, ok := newChunk(text, len(chunks), start, end); ok {
			chunks = append(chunks, c)
		}
	}

	for _, b := range boundaries {
		// The sentence runs up to and including its terminal punctuation.
		punctEnd := b[0]
		for punctEnd < b[1] && (text[punctEnd] == '.' || text[punctEnd] == '!' || text[punctEnd] == '?') {
			punctEnd++
		}
		if punctEnd > cursor {
			emit(prev, punctEnd)
		}
		cursor = punctEnd
		prev = b[1]
	}
	emit(prev, len(text))

	return chunks
}

func splitFixed(text string, size, overlap int) []Chunk {
	var chunks []Chunk
	start := 0

	for start < len(text) {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else {
			// Trim to the nearest preceding word boundary, but only
			// when one exists past the window midpoint; otherwise
			// cut exactly at size.
			window := text[start:end]
			if cut := strings.LastIndexAny(window, " \t\n"); cut > size/2 {
				end = start + cut
			}
		}

		if c, ok := newChunk(text, len(chunks), start, end); ok {
			chunks = append(chunks, c)
		}

		if end == len(text) {
			break
		}

		next := end - overlap
		if next <= start {
			// Always advance, even on pathological input.
			next = start + 1
		}
		start = next
	}
	return chunks
}
