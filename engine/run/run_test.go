package run

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/densemark/densemark/engine/dataset"
	"github.com/densemark/densemark/engine/embed"
	"github.com/densemark/densemark/engine/semantic"
)

type mockEmbedder struct{}

func (mockEmbedder) Embed(context.Context, string, embed.Role) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

type mockIndex struct {
	mu         sync.Mutex
	rebuilt    bool
	rebuildErr error
	records    []semantic.DocumentRecord
	hits       []semantic.Hit
	lastLimit  int
	closed     int
}

func (m *mockIndex) Rebuild(_ context.Context, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rebuildErr != nil {
		return m.rebuildErr
	}
	m.rebuilt = true
	return nil
}

func (m *mockIndex) Upsert(_ context.Context, records []semantic.DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

func (m *mockIndex) Search(_ context.Context, _ []float32, limit int) ([]semantic.Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	return m.hits, nil
}

func (m *mockIndex) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records), nil
}

func (m *mockIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func testDataset() *dataset.Dataset {
	return &dataset.Dataset{
		Name: "tiny",
		Corpus: []dataset.Document{
			{ID: "d1", Title: "one", Text: "first document"},
			{ID: "d2", Title: "two", Text: "second document"},
		},
		Queries: []dataset.Query{
			{ID: "q1", Text: "a question"},
		},
		Qrels: dataset.Qrels{
			"q1": {"d1": 1},
		},
	}
}

func loadOK() (*dataset.Dataset, error) { return testDataset(), nil }

func TestRunIngestion(t *testing.T) {
	idx := &mockIndex{}
	r := New(loadOK, mockEmbedder{}, idx, Options{Dims: 2})

	report, err := r.RunIngestion(context.Background())
	if err != nil {
		t.Fatalf("RunIngestion: %v", err)
	}
	if report.Inserted != 2 || report.Skipped != 0 {
		t.Fatalf("report = %+v", report)
	}
	if !idx.rebuilt {
		t.Fatal("index was not rebuilt")
	}
	if len(idx.records) != 2 {
		t.Fatalf("records = %d", len(idx.records))
	}
	if r.Phase() != PhaseDone {
		t.Fatalf("phase = %s", r.Phase())
	}
	if idx.closed != 1 {
		t.Fatalf("closed %d times", idx.closed)
	}
}

func TestRunIngestionLoadFailure(t *testing.T) {
	idx := &mockIndex{}
	load := func() (*dataset.Dataset, error) { return nil, errors.New("no such dataset") }
	r := New(load, mockEmbedder{}, idx, Options{})

	if _, err := r.RunIngestion(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if r.Phase() != PhaseFailed {
		t.Fatalf("phase = %s", r.Phase())
	}
	if idx.closed != 1 {
		t.Fatal("index must be closed on failure")
	}
}

func TestRunIngestionRebuildFailure(t *testing.T) {
	idx := &mockIndex{rebuildErr: errors.New("collection create refused")}
	r := New(loadOK, mockEmbedder{}, idx, Options{})

	if _, err := r.RunIngestion(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if r.Phase() != PhaseFailed {
		t.Fatalf("phase = %s", r.Phase())
	}
	if idx.closed != 1 {
		t.Fatal("index must be closed on failure")
	}
}

func TestRunEvaluation(t *testing.T) {
	idx := &mockIndex{hits: []semantic.Hit{
		{DocID: "d1", Score: 0.9},
		{DocID: "d2", Score: 0.3},
	}}
	r := New(loadOK, mockEmbedder{}, idx, Options{Cutoffs: []int{1, 10}})

	summary, report, err := r.RunEvaluation(context.Background())
	if err != nil {
		t.Fatalf("RunEvaluation: %v", err)
	}
	if report.Processed != 1 || report.Skipped != 0 {
		t.Fatalf("report = %+v", report)
	}
	if summary.Queries != 1 {
		t.Fatalf("summary queries = %d", summary.Queries)
	}
	if summary.NDCG[1] != 1 || summary.Precision[1] != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	// Search depth follows the largest cutoff.
	if idx.lastLimit != 10 {
		t.Fatalf("limit = %d", idx.lastLimit)
	}
	if r.Phase() != PhaseDone {
		t.Fatalf("phase = %s", r.Phase())
	}
	if idx.closed != 1 {
		t.Fatalf("closed %d times", idx.closed)
	}
}

func TestRunEvaluationLoadFailure(t *testing.T) {
	idx := &mockIndex{}
	load := func() (*dataset.Dataset, error) { return nil, errors.New("qrels missing") }
	r := New(load, mockEmbedder{}, idx, Options{})

	if _, _, err := r.RunEvaluation(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if r.Phase() != PhaseFailed {
		t.Fatalf("phase = %s", r.Phase())
	}
	if idx.closed != 1 {
		t.Fatal("index must be closed on failure")
	}
}

type brokenEmbedder struct{}

func (brokenEmbedder) Embed(context.Context, string, embed.Role) ([]float32, error) {
	return nil, embed.ErrStatus
}

// Losing every single query is an endpoint-level failure, not a per-item
// skip, and fails the run.
func TestRunEvaluationAllQueriesSkipped(t *testing.T) {
	idx := &mockIndex{}
	r := New(loadOK, brokenEmbedder{}, idx, Options{})

	if _, _, err := r.RunEvaluation(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if r.Phase() != PhaseFailed {
		t.Fatalf("phase = %s", r.Phase())
	}
	if idx.closed != 1 {
		t.Fatal("index must be closed on failure")
	}
}

func TestDefaultCutoffsApplied(t *testing.T) {
	r := New(loadOK, mockEmbedder{}, &mockIndex{}, Options{})
	if got := maxCutoff(r.opts.Cutoffs); got != 100 {
		t.Fatalf("max cutoff = %d", got)
	}
	if r.Phase() != PhaseInit {
		t.Fatalf("phase = %s", r.Phase())
	}
}
