// Package search runs the evaluation-side retrieval loop: embed each
// query, search the vector store, and assemble ranked results keyed by
// the stable document ID.
package search

import (
	"context"
	"errors"
	"log/slog"

	"github.com/densemark/densemark/engine/dataset"
	"github.com/densemark/densemark/engine/embed"
	"github.com/densemark/densemark/engine/semantic"
	"github.com/densemark/densemark/pkg/fn"
)

// Results maps query ID to a ranked docID -> score mapping, the shape the
// evaluation join consumes. A query that failed is absent entirely.
type Results map[string]map[string]float64

// Report tallies the search phase.
type Report struct {
	Processed int
	Skipped   int
}

// Searcher is the slice of the vector store the run loop needs.
type Searcher interface {
	Search(ctx context.Context, vector []float32, limit int) ([]semantic.Hit, error)
}

// Options configures the run loop.
type Options struct {
	// Workers bounds concurrent queries. 1 (the default) is sequential.
	Workers int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Runner executes retrieval for a query set.
type Runner struct {
	embedder embed.Embedder
	searcher Searcher
	opts     Options
	log      *slog.Logger
}

// New creates a Runner.
func New(embedder embed.Embedder, searcher Searcher, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Runner{embedder: embedder, searcher: searcher, opts: opts, log: log}
}

type queryResult struct {
	queryID string
	ranked  map[string]float64
}

// Run retrieves up to limit documents for every query. A failed embedding
// or search skips that query and continues; the query is then absent from
// Results. Hits missing the stable doc ID are dropped from that query's
// ranking with a warning.
func (r *Runner) Run(ctx context.Context, queries []dataset.Query, limit int) (Results, Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, Report{}, err
	}

	outcomes := fn.ParMapResult(queries, r.opts.Workers, func(q dataset.Query) fn.Result[queryResult] {
		return r.runQuery(ctx, q, limit)
	})

	results := make(Results, len(queries))
	var report Report
	for i, outcome := range outcomes {
		qr, err := outcome.Unwrap()
		if err != nil {
			// A cancelled run is a run-level abort, not a per-query skip.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return results, report, err
			}
			report.Skipped++
			r.log.Warn("search: skipping query", "query_id", queries[i].ID, "error", err)
			continue
		}
		results[qr.queryID] = qr.ranked
		report.Processed++
	}

	r.log.Info("search: finished", "processed", report.Processed, "skipped", report.Skipped)
	return results, report, nil
}

func (r *Runner) runQuery(ctx context.Context, q dataset.Query, limit int) fn.Result[queryResult] {
	vec, err := r.embedder.Embed(ctx, q.Text, embed.RoleQuery)
	if err != nil {
		return fn.Errf[queryResult]("embed: %w", err)
	}

	hits, err := r.searcher.Search(ctx, vec, limit)
	if err != nil {
		return fn.Errf[queryResult]("search: %w", err)
	}

	ranked := make(map[string]float64, len(hits))
	for _, h := range hits {
		if h.DocID == "" {
			r.log.Warn("search: hit missing stable doc id", "query_id", q.ID)
			continue
		}
		ranked[h.DocID] = float64(h.Score)
	}
	return fn.Ok(queryResult{queryID: q.ID, ranked: ranked})
}
