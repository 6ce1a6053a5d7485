// Package ingest embeds a document corpus and loads it into the vector
// store in flushed batches, tracking per-record success and failure.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/densemark/densemark/engine/dataset"
	"github.com/densemark/densemark/engine/embed"
	"github.com/densemark/densemark/engine/semantic"
	"github.com/densemark/densemark/pkg/fn"
	"github.com/densemark/densemark/pkg/resilience"
)

const (
	// DefaultFlushSize is how many embedded records are buffered before a
	// store write.
	DefaultFlushSize = 64
	// DLQSubject is where failed documents are dead-lettered when a DLQ
	// is configured.
	DLQSubject = "densemark.ingest.dlq"
)

// Report tallies one batch of ingestion work. Batches return their own
// report and the caller sums them; there are no shared counters.
type Report struct {
	Inserted int
	Skipped  int
}

// Add combines two reports.
func (r Report) Add(o Report) Report {
	return Report{Inserted: r.Inserted + o.Inserted, Skipped: r.Skipped + o.Skipped}
}

// Total returns the number of records accounted for.
func (r Report) Total() int { return r.Inserted + r.Skipped }

// DeadLetter describes a document that could not be ingested.
type DeadLetter struct {
	DocID string `json:"doc_id"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// DeadLetterer receives documents that failed ingestion.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, dl DeadLetter) error
}

// Options configures the ingestor.
type Options struct {
	// Workers bounds concurrent embedding calls. 1 (the default)
	// preserves strictly sequential processing.
	Workers int
	// FlushSize is the store write batch size. Zero means
	// DefaultFlushSize.
	FlushSize int
	// Breaker, when set, guards the embedder; an open breaker aborts the
	// run instead of skipping every remaining document.
	Breaker *resilience.Breaker
	// DLQ, when set, receives failed documents.
	DLQ DeadLetterer
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Writer is the slice of the vector store the ingestor needs.
type Writer interface {
	Upsert(ctx context.Context, records []semantic.DocumentRecord) error
}

// Ingestor runs the corpus through embed and store stages.
type Ingestor struct {
	embedder embed.Embedder
	store    Writer
	opts     Options
	log      *slog.Logger
	stage    fn.Stage[dataset.Document, semantic.DocumentRecord]
}

// New creates an Ingestor.
func New(embedder embed.Embedder, store Writer, opts Options) *Ingestor {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.FlushSize <= 0 {
		opts.FlushSize = DefaultFlushSize
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	ing := &Ingestor{embedder: embedder, store: store, opts: opts, log: log}

	stage := fn.TracedStage("ingest.embed", ing.embedDocument)
	if opts.Breaker != nil {
		stage = resilience.BreakerStage(opts.Breaker, stage)
	}
	ing.stage = stage
	return ing
}

// embedDocument computes the vector for one document. The text sent to
// the model is the canonical prefixed body; the record written to the
// store keeps the original fields untouched so the doc ID round-trips.
func (ing *Ingestor) embedDocument(ctx context.Context, doc dataset.Document) fn.Result[semantic.DocumentRecord] {
	vec, err := ing.embedder.Embed(ctx, doc.Text, embed.RoleDocument)
	if err != nil {
		return fn.Err[semantic.DocumentRecord](fmt.Errorf("doc %s: %w", doc.ID, err))
	}
	return fn.Ok(semantic.DocumentRecord{
		DocID:  doc.ID,
		Title:  doc.Title,
		Text:   doc.Text,
		Vector: vec,
	})
}

// Run ingests the corpus. Per-document failures are logged, dead-lettered
// when a DLQ is configured, and counted as skipped; they never abort the
// run. An open circuit breaker or a cancelled context does abort, with
// the partial report returned alongside the error.
func (ing *Ingestor) Run(ctx context.Context, docs []dataset.Document) (Report, error) {
	var total Report
	for _, batch := range fn.Chunk(docs, ing.opts.FlushSize) {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		report, err := ing.runBatch(ctx, batch)
		total = total.Add(report)
		if err != nil {
			return total, err
		}
	}
	ing.log.Info("ingest: finished", "inserted", total.Inserted, "skipped", total.Skipped)
	return total, nil
}

func (ing *Ingestor) runBatch(ctx context.Context, docs []dataset.Document) (Report, error) {
	results := fn.ParMapResult(docs, ing.opts.Workers, func(doc dataset.Document) fn.Result[semantic.DocumentRecord] {
		return ing.stage(ctx, doc)
	})

	var report Report
	records := make([]semantic.DocumentRecord, 0, len(docs))
	for i, r := range results {
		rec, err := r.Unwrap()
		if err == nil {
			records = append(records, rec)
			continue
		}
		if errors.Is(err, resilience.ErrCircuitOpen) {
			// Flush what already embedded, count the rest as skipped.
			report.Skipped += len(docs) - i
			report = report.Add(ing.flush(ctx, records))
			return report, fmt.Errorf("ingest: embedding endpoint unavailable: %w", err)
		}
		report.Skipped++
		ing.deadLetter(ctx, docs[i].ID, "embed", err)
	}

	report = report.Add(ing.flush(ctx, records))
	return report, nil
}

// flush writes embedded records. If the batched write fails, each record
// is written individually so one bad record does not discard its
// neighbors.
func (ing *Ingestor) flush(ctx context.Context, records []semantic.DocumentRecord) Report {
	var report Report
	if len(records) == 0 {
		return report
	}

	err := ing.store.Upsert(ctx, records)
	if err == nil {
		report.Inserted = len(records)
		return report
	}
	ing.log.Warn("ingest: batch write failed, retrying records individually", "batch", len(records), "error", err)

	for _, rec := range records {
		if err := ing.store.Upsert(ctx, []semantic.DocumentRecord{rec}); err != nil {
			report.Skipped++
			ing.deadLetter(ctx, rec.DocID, "store", err)
			continue
		}
		report.Inserted++
	}
	return report
}

func (ing *Ingestor) deadLetter(ctx context.Context, docID, stage string, err error) {
	ing.log.Warn("ingest: skipping document", "doc_id", docID, "stage", stage, "error", err)
	if ing.opts.DLQ == nil {
		return
	}
	dl := DeadLetter{DocID: docID, Stage: stage, Error: err.Error()}
	if pubErr := ing.opts.DLQ.DeadLetter(ctx, dl); pubErr != nil {
		ing.log.Error("ingest: DLQ publish failed", "doc_id", docID, "error", pubErr)
	}
}
