package searcher

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/bookmarks-mcp/internal/fusion"
	"github.com/dshills/bookmarks-mcp/internal/plan"
	"github.com/dshills/bookmarks-mcp/internal/retriever"
)

// Degradation reasons
const (
	reasonEmbedding = "embedding_unavailable"
	reasonTimeout   = "timeout"
	reasonError     = "error"
)

// ranking is the uncached result of a plan
type ranking struct {
	ranked   []fusion.Ranked
	mode     plan.Mode // Mode actually answered, Lexical after a Vector fallback
	degraded []string
}

// outcome is one retriever call
type outcome struct {
	source     retriever.Source
	candidates []retriever.Candidate
	err        error
}

// sourcesFor lists the retrievers a mode activates
func sourcesFor(mode plan.Mode) []retriever.Source {
	switch mode {
	case plan.ModeTagOnly:
		return []retriever.Source{retriever.SourceTag}
	case plan.ModeLexical, plan.ModeDomain:
		return []retriever.Source{retriever.SourceLexical}
	case plan.ModeVector:
		return []retriever.Source{retriever.SourceVector}
	case plan.ModeCombined:
		return []retriever.Source{retriever.SourceTag, retriever.SourceLexical, retriever.SourceVector}
	}
	return nil
}

func without(sources []retriever.Source, drop retriever.Source) []retriever.Source {
	out := make([]retriever.Source, 0, len(sources))
	for _, s := range sources {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}

// rank computes the full fused ranking for p. It fails only when ctx is done.
func (s *Searcher) rank(ctx context.Context, p *plan.Plan) (*ranking, error) {
	r := &ranking{mode: p.Mode()}
	sources := sourcesFor(p.Mode())

	var vector []float32
	if p.Mode().NeedsEmbedding() {
		v, err := s.resolver.Resolve(ctx, p.Text())
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.degrade(p, r, retriever.SourceVector, reasonEmbedding, err)
			sources = without(sources, retriever.SourceVector)
			if p.Mode() == plan.ModeVector {
				r.mode = plan.ModeLexical
				sources = sourcesFor(plan.ModeLexical)
			}
		} else {
			vector = v
		}
	}

	results := s.fanOut(ctx, p, vector, sources)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	lists := make(map[retriever.Source][]retriever.Candidate, len(results))
	vectorFailed := false
	for _, res := range results {
		if res.err != nil {
			reason := reasonError
			if errors.Is(res.err, context.DeadlineExceeded) {
				reason = reasonTimeout
			}
			s.degrade(p, r, res.source, reason, res.err)
			if res.source == retriever.SourceVector {
				vectorFailed = true
			}
			// The source stays active and contributes nothing
			lists[res.source] = []retriever.Candidate{}
			continue
		}
		lists[res.source] = res.candidates
	}

	// Vector search itself failed: the lexical retriever answers instead
	if r.mode == plan.ModeVector && vectorFailed {
		r.mode = plan.ModeLexical
		fallback := s.fanOut(ctx, p, nil, sourcesFor(plan.ModeLexical))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lists = map[retriever.Source][]retriever.Candidate{retriever.SourceLexical: {}}
		if res := fallback[0]; res.err != nil {
			reason := reasonError
			if errors.Is(res.err, context.DeadlineExceeded) {
				reason = reasonTimeout
			}
			s.degrade(p, r, res.source, reason, res.err)
		} else {
			lists[retriever.SourceLexical] = res.candidates
		}
	}

	ranked := fusion.Fuse(r.mode, lists, s.opts.Weights, s.opts.DomainBonus)
	if len(ranked) > s.opts.FanoutLimit {
		ranked = ranked[:s.opts.FanoutLimit]
	}
	r.ranked = ranked
	return r, nil
}

// fanOut calls every source concurrently, each under its own deadline,
// and waits for all of them. Failures are returned per source.
func (s *Searcher) fanOut(ctx context.Context, p *plan.Plan, vector []float32, sources []retriever.Source) []outcome {
	results := make([]outcome, len(sources))
	q := retriever.Query{Plan: p, Vector: vector, Limit: s.opts.FanoutLimit}

	var g errgroup.Group
	for i, source := range sources {
		results[i].source = source
		r, ok := s.retrievers[source]
		if !ok {
			results[i].err = errors.New("retriever not configured")
			continue
		}
		g.Go(func() error {
			results[i].candidates, results[i].err = s.retrieve(ctx, r, q)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Searcher) retrieve(ctx context.Context, r retriever.Retriever, q retriever.Query) ([]retriever.Candidate, error) {
	source := string(r.Source())
	ctx, span := tracer.Start(ctx, "searcher.retrieve/"+source,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int("retriever.limit", q.Limit)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.opts.RetrieverTimeout)
	defer cancel()

	start := time.Now()
	candidates, err := r.Retrieve(ctx, q)
	s.metrics.ObserveRetriever(source, time.Since(start))
	if err == nil && ctx.Err() != nil {
		// A retriever that ignored its deadline still counts as timed out
		err = ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("retriever.candidates", len(candidates)))
	return candidates, nil
}

// degrade records a dropped contribution
func (s *Searcher) degrade(p *plan.Plan, r *ranking, source retriever.Source, reason string, err error) {
	r.degraded = append(r.degraded, string(source)+": "+reason)
	s.metrics.RetrieverDegraded(string(source), reason)
	s.logger.Warn("search degraded",
		zap.String("plan_hash", p.Key()),
		zap.Int64("user_id", p.UserID()),
		zap.String("mode", string(p.Mode())),
		zap.String("source", string(source)),
		zap.String("reason", reason),
		zap.Error(err))
}
