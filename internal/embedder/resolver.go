package embedder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/dshills/bookmarks-mcp/internal/metrics"
)

// DefaultResolveTimeout bounds a single query embedding
const DefaultResolveTimeout = 300 * time.Millisecond

var tracer = otel.Tracer("github.com/dshills/bookmarks-mcp/internal/embedder")

// Resolver turns query text into a vector for search.
//
// Every failure, including a missing embedder, a timeout, a provider error
// and a vector of the wrong size, is reported as ErrEmbeddingUnavailable so
// callers can degrade instead of failing the request.
type Resolver struct {
	embedder Embedder
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewResolver creates a resolver. A nil embedder yields a resolver that is
// always unavailable.
func NewResolver(e Embedder, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Resolver {
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		embedder: e,
		timeout:  timeout,
		logger:   logger,
		metrics:  m,
	}
}

// Available reports whether an embedder is configured
func (r *Resolver) Available() bool {
	return r != nil && r.embedder != nil
}

// Resolve embeds text under the resolver's own deadline
func (r *Resolver) Resolve(ctx context.Context, text string) ([]float32, error) {
	if !r.Available() {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, ErrNoProviderEnabled)
	}

	provider := r.embedder.Provider()
	ctx, span := tracer.Start(ctx, "embedder.Resolve")
	span.SetAttributes(
		attribute.String("embedder.provider", provider),
		attribute.String("embedder.model", r.embedder.Model()),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	vector, err := r.resolve(ctx, text)
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		r.metrics.EmbeddingRequest(provider, outcome)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		r.logger.Debug("query embedding unavailable",
			zap.String("provider", provider),
			zap.String("outcome", outcome),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}

	r.metrics.EmbeddingRequest(provider, "ok")
	return vector, nil
}

func (r *Resolver) resolve(ctx context.Context, text string) ([]float32, error) {
	emb, err := r.embedder.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
	if err != nil {
		return nil, err
	}
	if emb == nil || len(emb.Vector) == 0 {
		return nil, errors.New("empty vector")
	}
	if dim := r.embedder.Dimension(); dim > 0 && len(emb.Vector) != dim {
		return nil, fmt.Errorf("dimension mismatch: got %d, want %d", len(emb.Vector), dim)
	}
	return emb.Vector, nil
}
