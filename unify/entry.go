// Package unify merges official legal texts, user-contributed fine
// examples, and community strategy tips into one unified knowledge
// collection with per-entry confidence levels.
package unify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Source types, ordered by trust.
const (
	SourceOfficial          = "official"
	SourceCommunityVerified = "community_verified"
	SourceUserContributed   = "user_contributed"
)

// Entry types.
const (
	TypeStatute     = "statute"
	TypeFineExample = "fine_example"
	TypeStrategyTip = "strategy_tip"
)

// Entry is one unit of unified knowledge. Identity is derived from
// content and source, so repeated unifier runs over the same inputs
// produce the same entries.
type Entry struct {
	ID              string   `json:"id"`
	EntryType       string   `json:"entry_type"`
	Title           string   `json:"title"`
	Content         string   `json:"content"`
	SourceType      string   `json:"source_type"`
	Category        string   `json:"category,omitempty"`
	LegalReferences []string `json:"legal_references,omitempty"`
	QualityScore    float64  `json:"quality_score"`
	ConfidenceLevel float64  `json:"confidence_level"`
	Tags            []string `json:"tags,omitempty"`
	UsageCount      int64    `json:"usage_count"`
}

// Band is an inclusive confidence interval for one source type.
type Band struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// ConfidenceBands maps source types to their confidence intervals.
type ConfidenceBands struct {
	Official  Band `yaml:"official" json:"official"`
	Community Band `yaml:"community" json:"community"`
	User      Band `yaml:"user" json:"user"`
}

// DefaultConfidenceBands returns the standard trust ordering: official
// sources are fully trusted, community-verified tips sit below them,
// and raw user contributions below that.
func DefaultConfidenceBands() ConfidenceBands {
	return ConfidenceBands{
		Official:  Band{Min: 1.0, Max: 1.0},
		Community: Band{Min: 0.8, Max: 0.9},
		User:      Band{Min: 0.6, Max: 0.8},
	}
}

// forSource returns the band for a source type.
func (b ConfidenceBands) forSource(sourceType string) Band {
	switch sourceType {
	case SourceOfficial:
		return b.Official
	case SourceCommunityVerified:
		return b.Community
	default:
		return b.User
	}
}

// at maps a 0..1 trust factor onto the band.
func (b Band) at(factor float64) float64 {
	if factor < 0 {
		factor = 0
	}
	if factor > 1 {
		factor = 1
	}
	return b.Min + (b.Max-b.Min)*factor
}

// entryID derives a stable identity from the fields that make an entry
// the same piece of knowledge across runs.
func entryID(title, content, sourceType string) string {
	prefix := content
	if len(prefix) > 128 {
		prefix = prefix[:128]
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", title, prefix, sourceType)))
	return hex.EncodeToString(sum[:])[:16]
}
