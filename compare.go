package kbase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

// Comparator runs every registered strategy over the same parsed document,
// computes comparable metrics, and recommends one strategy. Strategies run
// concurrently; they are pure and share no mutable state, so completion
// order never affects the report.
type Comparator struct {
	strategies []Strategy
	logger     *slog.Logger
}

// ComparatorOption configures a Comparator.
type ComparatorOption func(*Comparator)

// WithComparatorLogger sets a structured logger for comparison runs.
func WithComparatorLogger(l *slog.Logger) ComparatorOption {
	return func(c *Comparator) { c.logger = l }
}

// NewComparator creates a Comparator over the given strategies.
func NewComparator(strategies []Strategy, opts ...ComparatorOption) *Comparator {
	c := &Comparator{strategies: strategies, logger: nopLogger}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Compare runs each strategy independently over doc and returns an immutable
// report. A strategy that errors or panics is recorded in FailedStrategies
// and does not abort the others. Configuration errors abort the whole call.
func (c *Comparator) Compare(ctx context.Context, doc ParsedDocument, cfg ChunkConfig) (ComparisonReport, error) {
	if err := cfg.Validate(); err != nil {
		return ComparisonReport{}, err
	}
	if len(c.strategies) == 0 {
		return ComparisonReport{}, fmt.Errorf("compare: no strategies registered")
	}
	start := time.Now()
	c.logger.Debug("compare: started", "document_id", doc.DocumentID, "strategies", len(c.strategies))

	type runOutcome struct {
		name   string
		chunks []Chunk
		err    error
	}
	outcomes := make([]runOutcome, len(c.strategies))

	var wg sync.WaitGroup
	for i, s := range c.strategies {
		wg.Add(1)
		go func(i int, s Strategy) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					outcomes[i] = runOutcome{name: s.Name(), err: fmt.Errorf("panic: %v", r)}
				}
			}()
			chunks, err := s.Chunk(doc, cfg)
			outcomes[i] = runOutcome{name: s.Name(), chunks: chunks, err: err}
		}(i, s)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return ComparisonReport{}, err
	}

	report := ComparisonReport{
		DocumentID: doc.DocumentID,
		Results:    make(map[string]StrategyResult, len(c.strategies)),
		CreatedAt:  NowUnix(),
	}
	for _, out := range outcomes {
		if out.err != nil {
			c.logger.Warn("compare: strategy failed", "strategy", out.name, "error", out.err)
			report.FailedStrategies = append(report.FailedStrategies, StrategyFailure{
				Strategy: out.name,
				Error:    out.err.Error(),
			})
			continue
		}
		report.Results[out.name] = StrategyResult{
			Strategy: out.name,
			Chunks:   out.chunks,
			Metrics:  ComputeMetrics(out.chunks),
		}
	}
	sort.Slice(report.FailedStrategies, func(i, j int) bool {
		return report.FailedStrategies[i].Strategy < report.FailedStrategies[j].Strategy
	})

	report.Recommendation = recommend(report.Results, cfg.TargetChunkChars)

	c.logger.Debug("compare: completed",
		"document_id", doc.DocumentID,
		"succeeded", len(report.Results),
		"failed", len(report.FailedStrategies),
		"recommended", report.Recommendation.Strategy,
		"duration", time.Since(start))
	return report, nil
}

// ComputeMetrics summarizes a chunk sequence. Page preservation is the
// fraction of chunks spanning exactly one source page.
func ComputeMetrics(chunks []Chunk) StrategyMetrics {
	m := StrategyMetrics{ChunkCount: len(chunks)}
	if len(chunks) == 0 {
		return m
	}
	total := 0
	singlePage := 0
	m.MinChunkChars = len(chunks[0].Text)
	for _, c := range chunks {
		n := len(c.Text)
		total += n
		if n < m.MinChunkChars {
			m.MinChunkChars = n
		}
		if n > m.MaxChunkChars {
			m.MaxChunkChars = n
		}
		if len(c.SourcePages) == 1 {
			singlePage++
		}
	}
	m.AvgChunkChars = float64(total) / float64(len(chunks))
	m.PagePreservation = float64(singlePage) / float64(len(chunks))
	return m
}

// recommend picks the winning strategy deterministically: highest page
// preservation, then average chunk size closest to target, then name.
// Strategies that failed or produced zero chunks are not candidates.
func recommend(results map[string]StrategyResult, targetChars int) Recommendation {
	var candidates []StrategyResult
	for _, r := range results {
		if r.Metrics.ChunkCount > 0 {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return Recommendation{Reason: "no strategy produced chunks"}
	}

	sort.Slice(candidates, func(i, j int) bool {
		mi, mj := candidates[i].Metrics, candidates[j].Metrics
		if mi.PagePreservation != mj.PagePreservation {
			return mi.PagePreservation > mj.PagePreservation
		}
		di := math.Abs(mi.AvgChunkChars - float64(targetChars))
		dj := math.Abs(mj.AvgChunkChars - float64(targetChars))
		if di != dj {
			return di < dj
		}
		return candidates[i].Strategy < candidates[j].Strategy
	})

	best := candidates[0]
	return Recommendation{
		Strategy: best.Strategy,
		Reason: fmt.Sprintf("highest page preservation (%.2f) with avg chunk size %.0f chars against target %d",
			best.Metrics.PagePreservation, best.Metrics.AvgChunkChars, targetChars),
	}
}
