// Package assemble builds the knowledge bundle a defense-letter writer
// works from: the governing statutes, similar contested fines, strategy
// tips, and the most relevant corpus passages for one citation.
package assemble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/defesajusta/defesajusta/retrieval"
	"github.com/defesajusta/defesajusta/unify"
)

// Knowledge is the unified-collection surface the assembler needs.
type Knowledge interface {
	Search(query, category, sourceType string, limit int) []*unify.Entry
	IncrementUsage(id string)
}

// PassageRetriever serves semantic passage search.
type PassageRetriever interface {
	Retrieve(ctx context.Context, query string, k int, filters retrieval.Filters) ([]retrieval.Result, bool, error)
}

// Config bounds the bundle. The caps keep the output within what a
// letter can actually cite.
type Config struct {
	MaxStatutes int
	MaxExamples int
	MaxTips     int
	MaxPassages int
}

func (c Config) maxStatutes() int {
	if c.MaxStatutes > 0 {
		return c.MaxStatutes
	}
	return 5
}

func (c Config) maxExamples() int {
	if c.MaxExamples > 0 {
		return c.MaxExamples
	}
	return 3
}

func (c Config) maxTips() int {
	if c.MaxTips > 0 {
		return c.MaxTips
	}
	return 3
}

func (c Config) maxPassages() int {
	if c.MaxPassages > 0 {
		return c.MaxPassages
	}
	return 8
}

// Request identifies the citation a bundle is assembled for.
type Request struct {
	Category string  `json:"category"`
	Location string  `json:"location,omitempty"`
	Amount   float64 `json:"amount,omitempty"`
}

// Bundle is the assembled context for one citation.
type Bundle struct {
	Request         Request            `json:"request"`
	Statutes        []*unify.Entry     `json:"statutes"`
	Examples        []*unify.Entry     `json:"examples"`
	Tips            []*unify.Entry     `json:"tips"`
	LegalReferences []string           `json:"legal_references,omitempty"`
	Strategies      []string           `json:"strategies,omitempty"`
	Passages        []retrieval.Result `json:"passages,omitempty"`
	// Degraded is set when the passage search ran on the lexical
	// fallback path instead of the vector index.
	Degraded bool `json:"degraded,omitempty"`
}

// Assembler builds bundles from the unified collection and the corpus.
type Assembler struct {
	knowledge Knowledge
	retriever PassageRetriever
	cfg       Config
	logger    *slog.Logger
}

// New creates an assembler.
func New(knowledge Knowledge, retriever PassageRetriever, cfg Config, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		knowledge: knowledge,
		retriever: retriever,
		cfg:       cfg,
		logger:    logger,
	}
}

// Assemble collects everything relevant to the cited category, place,
// and amount. Missing sections degrade to empty rather than failing the
// whole bundle; only corpus access errors are fatal.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Bundle, error) {
	category := strings.ToLower(strings.TrimSpace(req.Category))
	if category == "" {
		return nil, fmt.Errorf("assemble: category is required")
	}
	req.Category = category

	bundle := &Bundle{Request: req}

	bundle.Statutes = a.knowledge.Search("", category, unify.SourceOfficial, a.cfg.maxStatutes())

	city := cityOf(req.Location)
	bundle.Examples = a.knowledge.Search(city, category, unify.SourceUserContributed, a.cfg.maxExamples())
	if len(bundle.Examples) == 0 && city != "" {
		// No local examples: fall back to the category at large.
		bundle.Examples = a.knowledge.Search("", category, unify.SourceUserContributed, a.cfg.maxExamples())
	}

	bundle.Tips = a.knowledge.Search("", category, unify.SourceCommunityVerified, a.cfg.maxTips())
	if len(bundle.Tips) < a.cfg.maxTips() {
		// General tips (notification deadlines, defects in the auto)
		// apply to every category.
		for _, tip := range a.knowledge.Search("", "outros", unify.SourceCommunityVerified, a.cfg.maxTips()) {
			if len(bundle.Tips) == a.cfg.maxTips() {
				break
			}
			bundle.Tips = append(bundle.Tips, tip)
		}
	}

	query := buildQuery(req)
	passages, degraded, err := a.retriever.Retrieve(ctx, query, a.cfg.maxPassages(), retrieval.Filters{})
	if err != nil {
		return nil, fmt.Errorf("assemble: passage search: %w", err)
	}
	bundle.Passages = passages
	bundle.Degraded = degraded

	bundle.LegalReferences = collectReferences(bundle)
	bundle.Strategies = collectStrategies(bundle)

	for _, e := range bundle.Statutes {
		a.knowledge.IncrementUsage(e.ID)
	}
	for _, e := range bundle.Examples {
		a.knowledge.IncrementUsage(e.ID)
	}
	for _, e := range bundle.Tips {
		a.knowledge.IncrementUsage(e.ID)
	}

	a.logger.Info("assemble: bundle built",
		"category", category,
		"location", req.Location,
		"statutes", len(bundle.Statutes),
		"examples", len(bundle.Examples),
		"tips", len(bundle.Tips),
		"passages", len(bundle.Passages),
		"degraded", degraded)
	return bundle, nil
}

// buildQuery synthesises the passage-search query from the citation.
func buildQuery(req Request) string {
	parts := []string{req.Category}
	if req.Location != "" {
		parts = append(parts, cityOf(req.Location))
	}
	if req.Amount > 0 {
		parts = append(parts, fmt.Sprintf("coima %.0f euros", req.Amount))
	}
	return strings.Join(parts, " ")
}

// collectReferences merges legal references from every bundle section,
// deduplicated in first-seen order.
func collectReferences(b *Bundle) []string {
	var refs []string
	seen := make(map[string]bool)
	for _, group := range [][]*unify.Entry{b.Statutes, b.Examples, b.Tips} {
		for _, e := range group {
			for _, r := range e.LegalReferences {
				if !seen[r] {
					seen[r] = true
					refs = append(refs, r)
				}
			}
		}
	}
	return refs
}

// strategyMarkers prefix actionable advice inside entry content.
var strategyMarkers = []string{"Estratégia:", "Strategy:"}

// collectStrategies pulls the marked strategy lines out of tips and
// examples so the letter writer gets the actionable advice directly.
func collectStrategies(b *Bundle) []string {
	var strategies []string
	seen := make(map[string]bool)
	for _, group := range [][]*unify.Entry{b.Tips, b.Examples} {
		for _, e := range group {
			for _, line := range strings.Split(e.Content, "\n") {
				line = strings.TrimSpace(line)
				for _, marker := range strategyMarkers {
					if i := strings.Index(line, marker); i >= 0 {
						s := strings.TrimSpace(line[i+len(marker):])
						if s != "" && !seen[s] {
							seen[s] = true
							strategies = append(strategies, s)
						}
						break
					}
				}
			}
		}
	}
	return strategies
}

func cityOf(location string) string {
	if i := strings.Index(location, ","); i >= 0 {
		return strings.TrimSpace(location[:i])
	}
	return strings.TrimSpace(location)
}
