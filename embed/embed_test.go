package embed

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Local embedder
// ---------------------------------------------------------------------------

func TestLocalDeterministic(t *testing.T) {
	e := NewLocal(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, []string{"estacionamento em zona azul"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := e.Embed(ctx, []string{"estacionamento em zona azul"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatalf("vector differs at %d: %f vs %f", i, a[0][i], b[0][i])
		}
	}
}

func TestLocalDimensionAndNorm(t *testing.T) {
	e := NewLocal(128)
	vecs, err := e.Embed(context.Background(), []string{"multa", "coima de velocidade", ""})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 128 {
			t.Errorf("vector %d has dim %d, want 128", i, len(v))
		}
	}

	// Non-empty text should produce a unit vector.
	var norm float64
	for _, x := range vecs[0] {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("norm = %f, want 1", norm)
	}
}

func TestLocalSimilarTextsCloser(t *testing.T) {
	e := NewLocal(256)
	vecs, err := e.Embed(context.Background(), []string{
		"estacionamento proibido zona azul",
		"multa de estacionamento na zona azul",
		"limite de velocidade em autoestrada",
	})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}

	if cosine(vecs[0], vecs[1]) <= cosine(vecs[0], vecs[2]) {
		t.Error("related texts should score higher cosine similarity than unrelated")
	}
}

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// ---------------------------------------------------------------------------
// Retry wrapper
// ---------------------------------------------------------------------------

// flaky fails with the given error a fixed number of times, then succeeds.
type flaky struct {
	failures int
	err      error
	calls    int
}

func (f *flaky) Dimension() int { return 4 }

func (f *flaky) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func testPolicy() RetryPolicy {
	return RetryPolicy{Timeout: 50 * time.Millisecond, Backoff: time.Millisecond}
}

func TestRetryRecoversFromSingleTimeout(t *testing.T) {
	f := &flaky{failures: 1, err: context.DeadlineExceeded}
	e := WithRetry(f, testPolicy(), slog.Default())

	vecs, err := e.Embed(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("expected recovery after one timeout, got %v", err)
	}
	if len(vecs) != 1 || f.calls != 2 {
		t.Errorf("calls = %d, want 2", f.calls)
	}
}

func TestRetryExhaustedSurfacesErrTimeout(t *testing.T) {
	f := &flaky{failures: 2, err: context.DeadlineExceeded}
	e := WithRetry(f, testPolicy(), slog.Default())

	_, err := e.Embed(context.Background(), []string{"a"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout after retry exhausted, got %v", err)
	}
	if f.calls != 2 {
		t.Errorf("calls = %d, want exactly 2 (one retry)", f.calls)
	}
}

func TestRetryDoesNotRetryNonTimeout(t *testing.T) {
	permanent := errors.New("bad request")
	f := &flaky{failures: 5, err: permanent}
	e := WithRetry(f, testPolicy(), slog.Default())

	_, err := e.Embed(context.Background(), []string{"a"})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if f.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry for non-timeout)", f.calls)
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New(Config{Provider: "clippy"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
