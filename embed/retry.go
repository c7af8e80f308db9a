package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy bounds a single embedding call and allows exactly one
// retry with backoff on timeout. After the retry fails the error is
// ErrTimeout; read-path callers degrade instead of failing the request.
type RetryPolicy struct {
	Timeout time.Duration
	Backoff time.Duration
}

// retrying decorates an Embedder with the policy above.
type retrying struct {
	inner  Embedder
	policy RetryPolicy
	logger *slog.Logger
}

// WithRetry wraps e so each Embed call runs under policy.Timeout and is
// retried once after policy.Backoff on deadline expiry.
func WithRetry(e Embedder, policy RetryPolicy, logger *slog.Logger) Embedder {
	if policy.Timeout <= 0 {
		policy.Timeout = 10 * time.Second
	}
	if policy.Backoff <= 0 {
		policy.Backoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &retrying{inner: e, policy: policy, logger: logger}
}

func (r *retrying) Dimension() int { return r.inner.Dimension() }

func (r *retrying) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := r.attempt(ctx, texts)
	if err == nil {
		return vecs, nil
	}
	if !isTimeout(err) {
		return nil, err
	}

	r.logger.Warn("embedding timed out, retrying once",
		"texts", len(texts), "backoff", r.policy.Backoff)

	select {
	case <-time.After(r.policy.Backoff):
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}

	vecs, err = r.attempt(ctx, texts)
	if err == nil {
		return vecs, nil
	}
	if isTimeout(err) {
		return nil, fmt.Errorf("%w: retry exhausted", ErrTimeout)
	}
	return nil, err
}

func (r *retrying) attempt(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.policy.Timeout)
	defer cancel()
	return r.inner.Embed(callCtx, texts)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout)
}
