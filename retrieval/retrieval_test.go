package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/defesajusta/defesajusta/embed"
	"github.com/defesajusta/defesajusta/index"
	"github.com/defesajusta/defesajusta/store"
)

// fakeIndex returns canned matches in insertion order.
type fakeIndex struct {
	matches []index.Match
	lastK   int
	err     error
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, k int) ([]index.Match, error) {
	f.lastK = k
	if f.err != nil {
		return nil, f.err
	}
	if k > len(f.matches) {
		k = len(f.matches)
	}
	return f.matches[:k], nil
}

// fakeStore serves passages from a map and FTS hits from a slice.
type fakeStore struct {
	passages map[int64]store.PassageHit
	ftsHits  []store.PassageHit
	ftsErr   error
}

func (f *fakeStore) PassageWithDocument(_ context.Context, id int64) (*store.PassageHit, error) {
	hit, ok := f.passages[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &hit, nil
}

func (f *fakeStore) SearchPassages(_ context.Context, _ string, _ int) ([]store.PassageHit, error) {
	return f.ftsHits, f.ftsErr
}

type failingEmbedder struct{}

func (failingEmbedder) Dimension() int { return 4 }
func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, embed.ErrTimeout
}

func statuteHit(passageID, docID int64, text string) store.PassageHit {
	return store.PassageHit{
		PassageID:    passageID,
		DocumentID:   docID,
		Text:         text,
		Title:        "Código da Estrada, Artigo 48",
		DocumentType: "statute",
		Jurisdiction: "Portugal",
		QualityScore: 0.9,
	}
}

func newTestRetriever(t *testing.T, idx *fakeIndex, st *fakeStore) *Retriever {
	t.Helper()
	return New(embed.NewLocal(4), idx, st, Config{TopK: 10, OversampleFactor: 5}, nil)
}

func TestRetrieveReturnsRankedStatutes(t *testing.T) {
	idx := &fakeIndex{matches: []index.Match{
		{PassageID: 1, Distance: 0.1},
		{PassageID: 2, Distance: 0.4},
	}}
	st := &fakeStore{passages: map[int64]store.PassageHit{
		1: statuteHit(1, 10, "O estacionamento em zona azul obedece ao regime de duração limitada."),
		2: statuteHit(2, 10, "A sinalização da zona azul deve ser visível."),
	}}
	r := newTestRetriever(t, idx, st)

	results, degraded, err := r.Retrieve(context.Background(),
		"estacionamento zona azul", 2, Filters{})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if degraded {
		t.Error("healthy path reported degraded")
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].PassageID != 1 || results[0].Distance >= results[1].Distance {
		t.Errorf("results not ordered by ascending distance: %+v", results)
	}
	if results[0].Title != "Código da Estrada, Artigo 48" {
		t.Errorf("document metadata not joined: %+v", results[0])
	}
}

func TestRetrieveOversamplesCandidates(t *testing.T) {
	idx := &fakeIndex{}
	r := newTestRetriever(t, idx, &fakeStore{})

	if _, _, err := r.Retrieve(context.Background(), "multa", 3, Filters{}); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if idx.lastK < 15 {
		t.Errorf("ANN candidate set = %d, want at least 5x requested k", idx.lastK)
	}
}

func TestRetrieveFiltersExactly(t *testing.T) {
	idx := &fakeIndex{matches: []index.Match{
		{PassageID: 1, Distance: 0.1},
		{PassageID: 2, Distance: 0.2},
		{PassageID: 3, Distance: 0.3},
	}}
	precedent := statuteHit(2, 20, "Decisão sobre coima de estacionamento.")
	precedent.DocumentType = "precedent"
	st := &fakeStore{passages: map[int64]store.PassageHit{
		1: statuteHit(1, 10, "texto do artigo"),
		2: precedent,
		3: statuteHit(3, 10, "outro texto do artigo"),
	}}
	r := newTestRetriever(t, idx, st)

	results, _, err := r.Retrieve(context.Background(), "estacionamento", 5,
		Filters{DocumentType: "statute"})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 statute results, got %d", len(results))
	}
	for _, res := range results {
		if res.DocumentType != "statute" {
			t.Errorf("filter leaked non-statute result: %+v", res)
		}
	}
}

func TestRetrieveSkipsTombstonedAndMissing(t *testing.T) {
	idx := &fakeIndex{matches: []index.Match{
		{PassageID: 1, Distance: 0.1},
		{PassageID: 2, Distance: 0.2}, // absent from store
		{PassageID: 3, Distance: 0.3},
	}}
	dead := statuteHit(3, 30, "documento removido")
	dead.Tombstoned = true
	st := &fakeStore{passages: map[int64]store.PassageHit{
		1: statuteHit(1, 10, "vivo"),
		3: dead,
	}}
	r := newTestRetriever(t, idx, st)

	results, _, err := r.Retrieve(context.Background(), "estacionamento", 5, Filters{})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(results) != 1 || results[0].PassageID != 1 {
		t.Errorf("expected only the live passage, got %+v", results)
	}
}

func TestRetrieveCapsAtK(t *testing.T) {
	var matches []index.Match
	passages := map[int64]store.PassageHit{}
	for i := int64(1); i <= 20; i++ {
		matches = append(matches, index.Match{PassageID: i, Distance: float64(i) / 100})
		passages[i] = statuteHit(i, 10, "texto")
	}
	r := newTestRetriever(t, &fakeIndex{matches: matches}, &fakeStore{passages: passages})

	results, _, err := r.Retrieve(context.Background(), "multa", 4, Filters{})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(results) != 4 {
		t.Errorf("expected exactly 4 results, got %d", len(results))
	}
}

func TestRetrieveFallsBackWhenEmbedderDown(t *testing.T) {
	st := &fakeStore{ftsHits: []store.PassageHit{
		statuteHit(1, 10, "estacionamento em zona azul"),
	}}
	r := New(failingEmbedder{}, &fakeIndex{}, st, Config{}, nil)

	results, degraded, err := r.Retrieve(context.Background(), "zona azul", 5, Filters{})
	if err != nil {
		t.Fatalf("fallback retrieve: %v", err)
	}
	if !degraded {
		t.Error("fallback path must report degraded")
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 fallback result, got %d", len(results))
	}
}

func TestRetrieveIndexErrorIsFatal(t *testing.T) {
	idx := &fakeIndex{err: index.ErrUnavailable}
	r := newTestRetriever(t, idx, &fakeStore{})

	_, degraded, err := r.Retrieve(context.Background(), "multa", 3, Filters{})
	if !errors.Is(err, index.ErrUnavailable) {
		t.Fatalf("index failure must surface, got %v", err)
	}
	if degraded {
		t.Error("index errors must not be masked by the degraded path")
	}
}

func TestRetrieveEmptyQuery(t *testing.T) {
	r := newTestRetriever(t, &fakeIndex{}, &fakeStore{})
	results, degraded, err := r.Retrieve(context.Background(), "   ", 5, Filters{})
	if err != nil || degraded || results != nil {
		t.Fatalf("empty query should be a no-op, got %v, %v, %v", results, degraded, err)
	}
}

func TestSanitizeFTSQuery(t *testing.T) {
	got := sanitizeFTSQuery(`multa "zona azul" OR (velocidade)`)
	want := `"multa" OR "zona" OR "azul" OR "OR" OR "velocidade"`
	if got != want {
		t.Errorf("sanitize = %q, want %q", got, want)
	}
	if sanitizeFTSQuery("!!!") != `""` {
		t.Errorf("operator-only query should collapse to empty phrase")
	}
}
