// Package chunker splits extracted document text into overlapping
// passages sized for the embedding model's input window.
package chunker

import "strings"

// Config controls the chunking behaviour. Sizes are in runes, not bytes,
// so multi-byte text is never split mid-character.
type Config struct {
	Size    int // Maximum runes per passage.
	Overlap int // Runes shared between consecutive passages.
}

// Chunker converts raw document text into ordered passage strings.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with sensible defaults, and the overlap
// is clamped below the passage size so the window always advances.
func New(cfg Config) *Chunker {
	if cfg.Size <= 0 {
		cfg.Size = 800
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 0
	}
	if cfg.Overlap >= cfg.Size {
		cfg.Overlap = cfg.Size / 2
	}
	return &Chunker{cfg: cfg}
}

// Size returns the configured passage size in runes.
func (c *Chunker) Size() int { return c.cfg.Size }

// Overlap returns the configured overlap in runes.
func (c *Chunker) Overlap() int { return c.cfg.Overlap }

// Split breaks text into ordered passages of at most Size runes where
// consecutive passages share the last Overlap runes of the previous one.
// No content is dropped: concatenating each passage minus its leading
// overlap reconstructs the input exactly (see Reconstruct). Empty text
// yields no passages; text shorter than Size yields a single passage.
func (c *Chunker) Split(text string) []string {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= c.cfg.Size {
		return []string{text}
	}

	step := c.cfg.Size - c.cfg.Overlap
	passages := make([]string, 0, (len(runes)+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := start + c.cfg.Size
		if end > len(runes) {
			end = len(runes)
		}
		passages = append(passages, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return passages
}

// Reconstruct inverts Split: it concatenates the non-overlapping spans
// of the given passages, restoring the original text byte for byte.
func (c *Chunker) Reconstruct(passages []string) string {
	if len(passages) == 0 {
		return ""
	}

	step := c.cfg.Size - c.cfg.Overlap
	var b strings.Builder
	for i, p := range passages {
		if i == len(passages)-1 {
			b.WriteString(p)
			break
		}
		runes := []rune(p)
		if len(runes) > step {
			runes = runes[:step]
		}
		b.WriteString(string(runes))
	}
	return b.String()
}
