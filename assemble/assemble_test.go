package assemble

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/defesajusta/defesajusta/retrieval"
	"github.com/defesajusta/defesajusta/unify"
)

// fakeKnowledge serves canned entries and records usage increments.
type fakeKnowledge struct {
	entries []*unify.Entry
	usage   map[string]int
}

func (f *fakeKnowledge) Search(query, category, sourceType string, limit int) []*unify.Entry {
	terms := strings.Fields(strings.ToLower(query))
	var out []*unify.Entry
	for _, e := range f.entries {
		if category != "" && e.Category != category {
			continue
		}
		if sourceType != "" && e.SourceType != sourceType {
			continue
		}
		matched := true
		for _, t := range terms {
			hay := strings.ToLower(e.Title + " " + e.Content + " " + strings.Join(e.Tags, " "))
			if !strings.Contains(hay, t) {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out
}

func (f *fakeKnowledge) IncrementUsage(id string) {
	if f.usage == nil {
		f.usage = make(map[string]int)
	}
	f.usage[id]++
}

type fakeRetriever struct {
	results  []retrieval.Result
	degraded bool
	err      error
	lastK    int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, k int, _ retrieval.Filters) ([]retrieval.Result, bool, error) {
	f.lastK = k
	return f.results, f.degraded, f.err
}

func entry(id, entryType, title, content, source, category string, tags ...string) *unify.Entry {
	return &unify.Entry{
		ID:              id,
		EntryType:       entryType,
		Title:           title,
		Content:         content,
		SourceType:      source,
		Category:        category,
		QualityScore:    0.8,
		ConfidenceLevel: 0.9,
		Tags:            tags,
	}
}

func testKnowledge() *fakeKnowledge {
	statute := entry("s1", unify.TypeStatute, "Código da Estrada, Artigo 48.º",
		"O estacionamento em zona azul obedece ao regime de duração limitada.",
		unify.SourceOfficial, "estacionamento")
	statute.LegalReferences = []string{"Artigo 48.º", "Código da Estrada"}

	example := entry("e1", unify.TypeFineExample, "Exemplo: estacionamento em Lisboa",
		"Coima de 60.00€ por estacionamento em Lisboa, Avenida da Liberdade.\n"+
			"Estratégia: invocar sinalização deficiente da zona azul.",
		unify.SourceUserContributed, "estacionamento", "Lisboa")

	tip := entry("t1", unify.TypeStrategyTip, "Sinalização da zona azul deficiente",
		"A zona azul exige sinalização visível. Estratégia: fotografar todos os acessos à zona.",
		unify.SourceCommunityVerified, "estacionamento", "zona azul")

	general := entry("t2", unify.TypeStrategyTip, "Notificação fora do prazo legal",
		"Estratégia: invocar prescrição quando o prazo foi excedido.",
		unify.SourceCommunityVerified, "outros")

	return &fakeKnowledge{entries: []*unify.Entry{statute, example, tip, general}}
}

func TestAssembleBuildsFullBundle(t *testing.T) {
	k := testKnowledge()
	r := &fakeRetriever{results: []retrieval.Result{
		{PassageID: 1, Title: "Código da Estrada, Artigo 48.º", Text: "texto do artigo"},
	}}
	a := New(k, r, Config{}, nil)

	bundle, err := a.Assemble(context.Background(), Request{
		Category: "estacionamento",
		Location: "Lisboa",
		Amount:   60,
	})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	if len(bundle.Statutes) != 1 || bundle.Statutes[0].ID != "s1" {
		t.Errorf("statutes = %+v", bundle.Statutes)
	}
	if len(bundle.Examples) != 1 || bundle.Examples[0].ID != "e1" {
		t.Errorf("examples = %+v", bundle.Examples)
	}
	if len(bundle.Tips) != 2 {
		t.Errorf("expected category tip plus general tip, got %d", len(bundle.Tips))
	}
	if len(bundle.Passages) != 1 || bundle.Degraded {
		t.Errorf("passages = %+v, degraded = %v", bundle.Passages, bundle.Degraded)
	}
	if len(bundle.LegalReferences) != 2 {
		t.Errorf("legal references = %v", bundle.LegalReferences)
	}
	if len(bundle.Strategies) != 3 {
		t.Errorf("strategies = %v", bundle.Strategies)
	}
	for _, s := range bundle.Strategies {
		if strings.Contains(s, "Estratégia:") {
			t.Errorf("strategy marker not stripped: %q", s)
		}
	}
}

func TestAssembleRespectsCaps(t *testing.T) {
	k := &fakeKnowledge{}
	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		k.entries = append(k.entries,
			entry("s"+id, unify.TypeStatute, "Artigo "+id, "texto", unify.SourceOfficial, "estacionamento"),
			entry("e"+id, unify.TypeFineExample, "Exemplo "+id, "texto Lisboa", unify.SourceUserContributed, "estacionamento", "Lisboa"),
			entry("t"+id, unify.TypeStrategyTip, "Dica "+id, "texto", unify.SourceCommunityVerified, "estacionamento"),
		)
	}
	a := New(k, &fakeRetriever{}, Config{}, nil)

	bundle, err := a.Assemble(context.Background(), Request{Category: "estacionamento", Location: "Lisboa"})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(bundle.Statutes) != 5 {
		t.Errorf("statutes = %d, want capped at 5", len(bundle.Statutes))
	}
	if len(bundle.Examples) != 3 {
		t.Errorf("examples = %d, want capped at 3", len(bundle.Examples))
	}
	if len(bundle.Tips) != 3 {
		t.Errorf("tips = %d, want capped at 3", len(bundle.Tips))
	}
}

func TestAssembleFallsBackToCategoryExamples(t *testing.T) {
	k := testKnowledge()
	a := New(k, &fakeRetriever{}, Config{}, nil)

	bundle, err := a.Assemble(context.Background(), Request{
		Category: "estacionamento",
		Location: "Faro",
	})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(bundle.Examples) != 1 {
		t.Errorf("expected category-wide example fallback, got %+v", bundle.Examples)
	}
}

func TestAssemblePropagatesDegraded(t *testing.T) {
	a := New(testKnowledge(), &fakeRetriever{degraded: true}, Config{}, nil)

	bundle, err := a.Assemble(context.Background(), Request{Category: "estacionamento"})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if !bundle.Degraded {
		t.Error("degraded passage search must be reported on the bundle")
	}
}

func TestAssembleRetrieverErrorIsFatal(t *testing.T) {
	boom := errors.New("index gone")
	a := New(testKnowledge(), &fakeRetriever{err: boom}, Config{}, nil)

	if _, err := a.Assemble(context.Background(), Request{Category: "estacionamento"}); !errors.Is(err, boom) {
		t.Fatalf("expected retriever error to surface, got %v", err)
	}
}

func TestAssembleRequiresCategory(t *testing.T) {
	a := New(testKnowledge(), &fakeRetriever{}, Config{}, nil)
	if _, err := a.Assemble(context.Background(), Request{}); err == nil {
		t.Fatal("expected error for empty category")
	}
}

func TestAssembleIncrementsUsage(t *testing.T) {
	k := testKnowledge()
	a := New(k, &fakeRetriever{}, Config{}, nil)

	if _, err := a.Assemble(context.Background(), Request{Category: "estacionamento", Location: "Lisboa"}); err != nil {
		t.Fatalf("assemble: %v", err)
	}
	for _, id := range []string{"s1", "e1", "t1"} {
		if k.usage[id] != 1 {
			t.Errorf("usage[%s] = %d, want 1", id, k.usage[id])
		}
	}
}
