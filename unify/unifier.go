package unify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/defesajusta/defesajusta/store"
)

// DocumentSource lists the official corpus.
type DocumentSource interface {
	ListDocuments(ctx context.Context, activeOnly bool) ([]store.Document, error)
}

// ContributionSource lists user contributions and their contests.
type ContributionSource interface {
	ListContributions(ctx context.Context) ([]store.Contribution, error)
	ContestsByContribution(ctx context.Context, contributionID string) ([]store.Contest, error)
}

// Config holds unifier settings.
type Config struct {
	// CollectionPath is where the unified collection JSON lives.
	CollectionPath string
	// CatalogPath optionally points at an XLSX of extra community
	// tips. Empty means builtin tips only.
	CatalogPath string
	// Bands sets the per-source confidence intervals.
	Bands ConfidenceBands
	// UsageWeight controls how much usage counts lift search ranking.
	UsageWeight float64
}

func (c Config) usageWeight() float64 {
	if c.UsageWeight > 0 {
		return c.UsageWeight
	}
	return 0.05
}

// RunReport summarises one unifier run.
type RunReport struct {
	Official      int `json:"official"`
	Contributions int `json:"contributions"`
	Tips          int `json:"tips"`
	Deduplicated  int `json:"deduplicated"`
	Total         int `json:"total"`
}

// Unifier builds and serves the unified knowledge collection.
type Unifier struct {
	docs    DocumentSource
	contrib ContributionSource
	cfg     Config
	logger  *slog.Logger

	mu      sync.RWMutex
	entries map[string]*Entry
}

// New creates a unifier and loads the existing collection if one is
// present at the configured path.
func New(docs DocumentSource, contrib ContributionSource, cfg Config, logger *slog.Logger) (*Unifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u := &Unifier{
		docs:    docs,
		contrib: contrib,
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*Entry),
	}
	if err := u.load(); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *Unifier) load() error {
	data, err := os.ReadFile(u.cfg.CollectionPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("unify: reading collection: %w", err)
	}
	var list []*Entry
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("unify: parsing collection: %w", err)
	}
	for _, e := range list {
		u.entries[e.ID] = e
	}
	return nil
}

// Run rebuilds the collection from all sources. Prior usage counts are
// carried forward by entry ID, so a rebuild never resets popularity.
// Runs over unchanged inputs write byte-identical collection files.
func (u *Unifier) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{}
	fresh := make(map[string]*Entry)

	add := func(e *Entry) {
		existing, ok := fresh[e.ID]
		if !ok {
			fresh[e.ID] = e
			return
		}
		// Duplicate identity: keep the higher-quality variant and the
		// larger usage count.
		report.Deduplicated++
		if e.QualityScore > existing.QualityScore {
			if existing.UsageCount > e.UsageCount {
				e.UsageCount = existing.UsageCount
			}
			fresh[e.ID] = e
		} else if e.UsageCount > existing.UsageCount {
			existing.UsageCount = e.UsageCount
		}
	}

	n, err := u.importOfficial(ctx, add)
	if err != nil {
		return nil, err
	}
	report.Official = n

	n, err = u.importContributions(ctx, add)
	if err != nil {
		return nil, err
	}
	report.Contributions = n

	n, err = u.importCommunityTips(add)
	if err != nil {
		return nil, err
	}
	report.Tips = n

	u.mu.Lock()
	for id, e := range fresh {
		if prior, ok := u.entries[id]; ok {
			usage := atomic.LoadInt64(&prior.UsageCount)
			if usage > e.UsageCount {
				e.UsageCount = usage
			}
		}
	}
	u.entries = fresh
	u.mu.Unlock()

	if err := u.Persist(); err != nil {
		return nil, err
	}
	report.Total = len(fresh)
	u.logger.Info("unify: run complete",
		"official", report.Official,
		"contributions", report.Contributions,
		"tips", report.Tips,
		"deduplicated", report.Deduplicated,
		"total", report.Total)
	return report, nil
}

func (u *Unifier) importOfficial(ctx context.Context, add func(*Entry)) (int, error) {
	docs, err := u.docs.ListDocuments(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("unify: listing documents: %w", err)
	}
	for _, doc := range docs {
		e := &Entry{
			EntryType:       TypeStatute,
			Title:           doc.Title,
			Content:         doc.ExtractedText,
			SourceType:      SourceOfficial,
			Category:        ClassifyCategory(doc.Title + " " + doc.ExtractedText),
			LegalReferences: ExtractLegalReferences(doc.Title + " " + doc.ExtractedText),
			QualityScore:    doc.QualityScore,
			ConfidenceLevel: u.cfg.Bands.forSource(SourceOfficial).at(1),
			Tags:            []string{doc.DocumentType},
		}
		e.ID = entryID(e.Title, e.Content, e.SourceType)
		add(e)
	}
	return len(docs), nil
}

// outcomeTrust maps a contest outcome to a 0..1 factor within the user
// confidence band. A won contest is the strongest evidence a strategy
// works; a lost one still documents what was tried.
func outcomeTrust(outcome string) float64 {
	switch outcome {
	case "contested_won":
		return 1.0
	case "paid":
		return 0.5
	case "pending", "":
		return 0.4
	case "contested_lost":
		return 0.2
	default:
		return 0.4
	}
}

func (u *Unifier) importContributions(ctx context.Context, add func(*Entry)) (int, error) {
	contributions, err := u.contrib.ListContributions(ctx)
	if err != nil {
		return 0, fmt.Errorf("unify: listing contributions: %w", err)
	}

	count := 0
	for _, c := range contributions {
		if c.Anonymized {
			continue
		}
		contests, err := u.contrib.ContestsByContribution(ctx, c.ID)
		if err != nil {
			return count, fmt.Errorf("unify: listing contests for %s: %w", c.ID, err)
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Coima de %.2f€ por %s em %s, emitida por %s a %s.",
			c.Amount, c.Category, c.Location, c.Authority, c.DateIssued)
		if c.Outcome != "" {
			fmt.Fprintf(&sb, " Desfecho: %s.", c.Outcome)
		}
		quality := 0.6
		for _, contest := range contests {
			if contest.StrategyText != "" {
				sb.WriteString("\n")
				sb.WriteString(contest.StrategyText)
			}
			if contest.SupportingReference != "" {
				fmt.Fprintf(&sb, "\nReferência: %s.", contest.SupportingReference)
			}
			quality += 0.1
		}
		if quality > 0.9 {
			quality = 0.9
		}

		e := &Entry{
			EntryType:       TypeFineExample,
			Title:           fmt.Sprintf("Exemplo: %s em %s", c.Category, cityOf(c.Location)),
			Content:         sb.String(),
			SourceType:      SourceUserContributed,
			Category:        c.Category,
			LegalReferences: ExtractLegalReferences(sb.String()),
			QualityScore:    quality,
			ConfidenceLevel: u.cfg.Bands.forSource(SourceUserContributed).at(outcomeTrust(c.Outcome)),
			Tags:            []string{cityOf(c.Location)},
		}
		e.ID = entryID(e.Title, e.Content, e.SourceType)
		add(e)
		count++
	}
	return count, nil
}

func (u *Unifier) importCommunityTips(add func(*Entry)) (int, error) {
	tips := BuiltinTips()
	if u.cfg.CatalogPath != "" {
		extra, err := LoadCatalogXLSX(u.cfg.CatalogPath)
		if err != nil {
			return 0, err
		}
		tips = append(tips, extra...)
	}

	for _, tip := range tips {
		e := &Entry{
			EntryType:       TypeStrategyTip,
			Title:           tip.Title,
			Content:         tip.Content,
			SourceType:      SourceCommunityVerified,
			Category:        tip.Category,
			LegalReferences: ExtractLegalReferences(tip.Content),
			QualityScore:    tip.Quality,
			ConfidenceLevel: u.cfg.Bands.forSource(SourceCommunityVerified).at(tip.Quality),
			Tags:            tip.Tags,
		}
		e.ID = entryID(e.Title, e.Content, e.SourceType)
		add(e)
	}
	return len(tips), nil
}

func cityOf(location string) string {
	if i := strings.Index(location, ","); i >= 0 {
		return strings.TrimSpace(location[:i])
	}
	return strings.TrimSpace(location)
}

// Persist writes the collection to disk: entries sorted by ID, indented
// JSON, written to a temp file and renamed into place. No timestamps or
// run metadata, so identical collections are identical bytes.
func (u *Unifier) Persist() error {
	// Exclusive lock: IncrementUsage mutates counts under the read
	// lock, so value snapshots here must not run concurrently with it.
	u.mu.Lock()
	list := make([]Entry, 0, len(u.entries))
	for _, e := range u.entries {
		snap := *e
		snap.UsageCount = atomic.LoadInt64(&e.UsageCount)
		list = append(list, snap)
	}
	u.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("unify: encoding collection: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(u.cfg.CollectionPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("unify: creating collection directory: %w", err)
		}
	}
	tmp := u.cfg.CollectionPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("unify: writing collection: %w", err)
	}
	if err := os.Rename(tmp, u.cfg.CollectionPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("unify: replacing collection: %w", err)
	}
	return nil
}

// Get returns the entry with the given ID, or nil.
func (u *Unifier) Get(id string) *Entry {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.entries[id]
}

// Len returns the number of entries in the collection.
func (u *Unifier) Len() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.entries)
}

// Search returns up to limit entries matching the query and filters,
// ranked by quality, confidence, and usage. Ties break by entry ID so
// identical collections rank identically. Empty query, category, or
// sourceType match everything.
func (u *Unifier) Search(query, category, sourceType string, limit int) []*Entry {
	if limit <= 0 {
		return nil
	}
	terms := strings.Fields(strings.ToLower(query))

	u.mu.RLock()
	var matched []*Entry
	for _, e := range u.entries {
		if category != "" && e.Category != category {
			continue
		}
		if sourceType != "" && e.SourceType != sourceType {
			continue
		}
		if !matchesTerms(e, terms) {
			continue
		}
		matched = append(matched, e)
	}
	u.mu.RUnlock()

	weight := u.cfg.usageWeight()
	score := func(e *Entry) float64 {
		usage := float64(atomic.LoadInt64(&e.UsageCount))
		return e.QualityScore * e.ConfidenceLevel * (1 + usage*weight)
	}
	sort.Slice(matched, func(i, j int) bool {
		si, sj := score(matched[i]), score(matched[j])
		if si != sj {
			return si > sj
		}
		return matched[i].ID < matched[j].ID
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// matchesTerms requires every query term to appear in the entry's
// title, content, or tags.
func matchesTerms(e *Entry, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	haystack := strings.ToLower(e.Title + " " + e.Content + " " + strings.Join(e.Tags, " "))
	for _, t := range terms {
		if !strings.Contains(haystack, t) {
			return false
		}
	}
	return true
}

// IncrementUsage bumps an entry's usage count. Safe under concurrent
// searches; counts not yet persisted are lost on crash, which is an
// accepted trade for lock-free reads.
func (u *Unifier) IncrementUsage(id string) {
	u.mu.RLock()
	e := u.entries[id]
	u.mu.RUnlock()
	if e != nil {
		atomic.AddInt64(&e.UsageCount, 1)
	}
}
