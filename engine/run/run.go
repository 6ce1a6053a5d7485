// Package run drives a benchmark end to end and tracks which phase the
// run is in. Connection and configuration level errors fail the run;
// per-item failures stay inside the phase reports.
package run

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/densemark/densemark/engine/dataset"
	"github.com/densemark/densemark/engine/embed"
	"github.com/densemark/densemark/engine/evalmetrics"
	"github.com/densemark/densemark/engine/ingest"
	"github.com/densemark/densemark/engine/search"
	"github.com/densemark/densemark/engine/semantic"
)

// Phase is the coarse state of a run. FAILED is reachable from every
// other phase.
type Phase string

const (
	PhaseInit            Phase = "INIT"
	PhaseLoadingData     Phase = "LOADING_DATA"
	PhaseRebuildingIndex Phase = "REBUILDING_INDEX"
	PhaseIngesting       Phase = "INGESTING"
	PhaseReady           Phase = "READY"
	PhaseSearching       Phase = "SEARCHING"
	PhaseEvaluating      Phase = "EVALUATING"
	PhaseDone            Phase = "DONE"
	PhaseFailed          Phase = "FAILED"
)

// DefaultCutoffs are the ranks reported when none are configured.
var DefaultCutoffs = []int{1, 3, 5, 10, 100}

// Index is the slice of the vector store a run needs. *semantic.Store
// satisfies it.
type Index interface {
	Rebuild(ctx context.Context, dims int) error
	Upsert(ctx context.Context, records []semantic.DocumentRecord) error
	Search(ctx context.Context, vector []float32, limit int) ([]semantic.Hit, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Options configures a run.
type Options struct {
	// Dims is handed to Rebuild; 0 leaves the dimension to the first write.
	Dims int
	// Cutoffs are the evaluation ranks. Search retrieves up to the largest
	// one. Empty means DefaultCutoffs.
	Cutoffs []int
	// Ingest configures the ingestion pipeline.
	Ingest ingest.Options
	// Search configures the retrieval loop.
	Search search.Options
	Logger *slog.Logger
}

// Runner owns the index for the duration of a run and closes it when the
// run ends, successful or not.
type Runner struct {
	load     func() (*dataset.Dataset, error)
	embedder embed.Embedder
	index    Index
	opts     Options
	log      *slog.Logger

	mu    sync.Mutex
	phase Phase
}

// New creates a Runner. load is called once per run to produce the
// dataset, typically a closure over dataset.Load.
func New(load func() (*dataset.Dataset, error), embedder embed.Embedder, index Index, opts Options) *Runner {
	if len(opts.Cutoffs) == 0 {
		opts.Cutoffs = DefaultCutoffs
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		load:     load,
		embedder: embedder,
		index:    index,
		opts:     opts,
		log:      log,
		phase:    PhaseInit,
	}
}

// Phase reports the current phase.
func (r *Runner) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

func (r *Runner) setPhase(p Phase) {
	r.mu.Lock()
	from := r.phase
	r.phase = p
	r.mu.Unlock()
	r.log.Info("run: phase", "from", string(from), "to", string(p))
}

func (r *Runner) fail(err error) error {
	r.setPhase(PhaseFailed)
	return err
}

func (r *Runner) closeIndex() {
	if err := r.index.Close(); err != nil {
		r.log.Warn("run: close index", "error", err)
	}
}

// RunIngestion loads the corpus, rebuilds the collection and ingests
// every document. The returned report always satisfies
// Inserted+Skipped == len(corpus) on success.
func (r *Runner) RunIngestion(ctx context.Context) (ingest.Report, error) {
	defer r.closeIndex()

	r.setPhase(PhaseLoadingData)
	ds, err := r.load()
	if err != nil {
		return ingest.Report{}, r.fail(fmt.Errorf("load dataset: %w", err))
	}
	r.log.Info("run: dataset loaded", "name", ds.Name, "docs", len(ds.Corpus), "queries", len(ds.Queries))

	r.setPhase(PhaseRebuildingIndex)
	if err := r.index.Rebuild(ctx, r.opts.Dims); err != nil {
		return ingest.Report{}, r.fail(fmt.Errorf("rebuild index: %w", err))
	}

	r.setPhase(PhaseIngesting)
	ing := ingest.New(r.embedder, r.index, r.opts.Ingest)
	report, err := ing.Run(ctx, ds.Corpus)
	if err != nil {
		return report, r.fail(fmt.Errorf("ingest: %w", err))
	}
	if report.Total() != len(ds.Corpus) {
		return report, r.fail(fmt.Errorf("ingest accounting: %d inserted + %d skipped != %d documents",
			report.Inserted, report.Skipped, len(ds.Corpus)))
	}

	r.setPhase(PhaseReady)
	if n, err := r.index.Count(ctx); err != nil {
		r.log.Warn("run: point count unavailable", "error", err)
	} else if n != report.Inserted {
		r.log.Warn("run: point count does not match inserts", "count", n, "inserted", report.Inserted)
	}

	r.setPhase(PhaseDone)
	return report, nil
}

// RunEvaluation loads the query set, retrieves for every query and scores
// the results against the judgments.
func (r *Runner) RunEvaluation(ctx context.Context) (evalmetrics.Summary, search.Report, error) {
	defer r.closeIndex()

	r.setPhase(PhaseLoadingData)
	ds, err := r.load()
	if err != nil {
		return evalmetrics.Summary{}, search.Report{}, r.fail(fmt.Errorf("load dataset: %w", err))
	}
	r.log.Info("run: dataset loaded", "name", ds.Name, "queries", len(ds.Queries))

	r.setPhase(PhaseSearching)
	depth := maxCutoff(r.opts.Cutoffs)
	searcher := search.New(r.embedder, r.index, r.opts.Search)
	results, report, err := searcher.Run(ctx, ds.Queries, depth)
	if err != nil {
		return evalmetrics.Summary{}, report, r.fail(fmt.Errorf("search: %w", err))
	}
	if report.Processed == 0 && len(ds.Queries) > 0 {
		return evalmetrics.Summary{}, report, r.fail(fmt.Errorf("search: no results for any of %d queries", len(ds.Queries)))
	}

	r.setPhase(PhaseEvaluating)
	summary := evalmetrics.Evaluate(ds.Qrels, results, r.opts.Cutoffs)
	r.log.Info("run: evaluated", "queries", summary.Queries, "processed", report.Processed, "skipped", report.Skipped)

	r.setPhase(PhaseDone)
	return summary, report, nil
}

func maxCutoff(ks []int) int {
	max := 0
	for _, k := range ks {
		if k > max {
			max = k
		}
	}
	return max
}
