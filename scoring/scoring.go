// Package scoring computes document quality scores at ingestion time.
// All functions are pure: record fields in, [0,1] scores out. Weights
// are configuration, not business logic baked into the corpus.
package scoring

import (
	"strings"
	"time"
)

// Weights controls the relative importance of the quality factors and
// the type/length blend behind the relevance score.
type Weights struct {
	Length    float64 `json:"length" yaml:"length"`
	Type      float64 `json:"type" yaml:"type"`
	Freshness float64 `json:"freshness" yaml:"freshness"`
	Authority float64 `json:"authority" yaml:"authority"`

	RelevanceType   float64 `json:"relevance_type" yaml:"relevance_type"`
	RelevanceLength float64 `json:"relevance_length" yaml:"relevance_length"`
}

// DefaultWeights returns balanced quality weights and a type-leaning
// relevance blend.
func DefaultWeights() Weights {
	return Weights{
		Length:    0.25,
		Type:      0.25,
		Freshness: 0.25,
		Authority: 0.25,

		RelevanceType:   0.6,
		RelevanceLength: 0.4,
	}
}

// Input carries the document fields the scoring heuristics read.
type Input struct {
	TextLength      int
	DocumentType    string // statute, precedent, regulation, unknown
	Jurisdiction    string
	SourceURL       string
	PublicationDate time.Time
}

// Scores holds the computed per-document scores.
type Scores struct {
	Quality   float64
	Relevance float64
	Freshness float64
	Authority float64
}

// Compute derives all document scores from the input fields. now anchors
// the freshness calculation so results are reproducible in tests.
func Compute(in Input, w Weights, now time.Time) Scores {
	length := lengthScore(in.TextLength)
	typ := typeScore(in.DocumentType)
	fresh := freshnessScore(in.PublicationDate, now)
	auth := authorityScore(in.SourceURL, in.Jurisdiction)

	total := w.Length + w.Type + w.Freshness + w.Authority
	if total <= 0 {
		total = 1
	}
	quality := (length*w.Length + typ*w.Type + fresh*w.Freshness + auth*w.Authority) / total

	relTotal := w.RelevanceType + w.RelevanceLength
	if relTotal <= 0 {
		w.RelevanceType, w.RelevanceLength, relTotal = 0.6, 0.4, 1
	}
	relevance := (typ*w.RelevanceType + length*w.RelevanceLength) / relTotal

	return Scores{
		Quality:   clamp(quality),
		Relevance: clamp(relevance),
		Freshness: fresh,
		Authority: auth,
	}
}

// lengthScore ramps from 0 for empty text to 1.0 at fullLengthChars.
// Very short fragments carry little usable legal context.
func lengthScore(n int) float64 {
	const fullLengthChars = 4000
	if n <= 0 {
		return 0
	}
	if n >= fullLengthChars {
		return 1
	}
	return float64(n) / fullLengthChars
}

// typeScore ranks document types by their weight in a defense argument.
func typeScore(documentType string) float64 {
	switch documentType {
	case "statute":
		return 1.0
	case "precedent":
		return 0.9
	case "regulation":
		return 0.8
	default:
		return 0.4
	}
}

// freshnessScore decays linearly from 1.0 (published within a year of
// now) to a 0.2 floor at ten years. A zero date scores neutral 0.5.
func freshnessScore(published, now time.Time) float64 {
	if published.IsZero() {
		return 0.5
	}
	years := now.Sub(published).Hours() / (24 * 365)
	if years <= 1 {
		return 1
	}
	if years >= 10 {
		return 0.2
	}
	return 1 - 0.8*(years-1)/9
}

// officialHosts are source domains treated as authoritative publishers.
var officialHosts = []string{
	"dre.pt",          // Diário da República
	"dgsi.pt",         // court decision database
	"ansr.pt",         // road safety authority
	"gov.pt",
	"parlamento.pt",
}

// authorityScore rates the source by its publishing domain, with a small
// bonus for records carrying an explicit jurisdiction.
func authorityScore(sourceURL, jurisdiction string) float64 {
	score := 0.4
	lower := strings.ToLower(sourceURL)
	for _, host := range officialHosts {
		if strings.Contains(lower, host) {
			score = 0.9
			break
		}
	}
	if jurisdiction != "" {
		score += 0.1
	}
	return clamp(score)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
