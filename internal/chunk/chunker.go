package chunk

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Input is the slice of a source record the chunker needs.
type Input struct {
	WorkID    string
	Title     string
	Content   string
	Scope     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Options configures the chunker.
type Options struct {
	MaxChars int // Maximum characters per chunk (default: DefaultMaxChars)
}

// Chunker splits record text on paragraph boundaries into bounded chunks.
// Chunk ids are positional ("<workID>#chunk<N>"), so re-chunking the same
// text always yields the same id set.
type Chunker struct {
	options Options
}

var paragraphPattern = regexp.MustCompile(`\n\s*\n`)

// New creates a chunker with default options.
func New() *Chunker {
	return NewWithOptions(Options{})
}

// NewWithOptions creates a chunker with custom options.
func NewWithOptions(opts Options) *Chunker {
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	return &Chunker{options: opts}
}

// Split chunks a record's text fields. The title is prepended to the first
// chunk so short notes embed as a single unit. Empty or whitespace-only
// records yield zero chunks.
func (c *Chunker) Split(in Input) []Chunk {
	title := strings.TrimSpace(in.Title)
	content := strings.TrimSpace(in.Content)
	if title == "" && content == "" {
		return nil
	}

	var pieces []string
	if title != "" {
		pieces = append(pieces, title)
	}
	for _, p := range paragraphPattern.Split(content, -1) {
		p = strings.TrimSpace(p)
		if p != "" {
			pieces = append(pieces, p)
		}
	}

	texts := c.pack(pieces)

	meta := Metadata{
		WorkID:          in.WorkID,
		Scope:           in.Scope,
		CreatedAtBucket: in.CreatedAt.UTC().Format("2006-01"),
		UpdatedAt:       in.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}

	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		m := meta
		m.ChunkIndex = i
		chunks[i] = Chunk{
			ID:       ChunkID(in.WorkID, i),
			Text:     text,
			Metadata: m,
		}
	}
	return chunks
}

// pack greedily joins paragraphs up to MaxChars, splitting oversized
// paragraphs hard at the boundary.
func (c *Chunker) pack(pieces []string) []string {
	var out []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}

	for _, piece := range pieces {
		// Hard-split paragraphs that alone exceed the bound.
		for len(piece) > c.options.MaxChars {
			flush()
			cut := splitPoint(piece, c.options.MaxChars)
			out = append(out, strings.TrimSpace(piece[:cut]))
			piece = strings.TrimSpace(piece[cut:])
		}
		if piece == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(piece)+2 > c.options.MaxChars && cur.Len() >= MinChunkChars {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(piece)
	}
	flush()

	return out
}

// splitPoint finds a cut position at or before max, preferring a space and
// never splitting inside a UTF-8 sequence. Always returns a position in
// [1, max] so the caller makes progress on every cut.
func splitPoint(s string, max int) int {
	cut := max
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		// No rune start before max means the text is not valid UTF-8.
		// Cut at max anyway; a clean boundary doesn't exist.
		return max
	}
	if idx := strings.LastIndexByte(s[:cut], ' '); idx > max/2 {
		return idx
	}
	return cut
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// ChunkID builds the stable chunk id for a record and index.
func ChunkID(workID string, index int) string {
	return fmt.Sprintf("%s#chunk%d", workID, index)
}

// WorkIDFromChunkID recovers the record id from a chunk id.
// Returns the input unchanged if it has no chunk suffix.
func WorkIDFromChunkID(chunkID string) string {
	if idx := strings.LastIndex(chunkID, "#chunk"); idx >= 0 {
		return chunkID[:idx]
	}
	return chunkID
}
