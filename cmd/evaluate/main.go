// Command evaluate retrieves for every query in a BEIR-layout dataset and
// scores the results against the relevance judgments.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/densemark/densemark/engine/dataset"
	"github.com/densemark/densemark/engine/embed"
	"github.com/densemark/densemark/engine/evalmetrics"
	"github.com/densemark/densemark/engine/run"
	"github.com/densemark/densemark/engine/search"
	"github.com/densemark/densemark/engine/semantic"
	"github.com/densemark/densemark/internal/config"
	"github.com/densemark/densemark/pkg/metrics"
)

var met = metrics.New()

var (
	mQueriesProcessed = met.Counter("densemark_eval_queries_processed_total", "Queries retrieved and scored")
	mQueriesSkipped   = met.Counter("densemark_eval_queries_skipped_total", "Queries skipped after a failure")
	mRunDur           = met.Histogram("densemark_eval_run_duration_seconds", "Wall time of the evaluation run", nil)
)

func main() {
	var (
		configPath  = flag.String("config", "", "YAML config path (empty = defaults)")
		datasetName = flag.String("dataset", "", "dataset name override")
		dataDir     = flag.String("dir", "", "datasets root override")
		split       = flag.String("split", "", "qrels split override")
		qdrantAddr  = flag.String("qdrant", "", "Qdrant gRPC address override")
		collection  = flag.String("collection", "", "collection name override")
		embedURL    = flag.String("embed", "", "embedding endpoint override")
		metricsPort = flag.Int("metrics-port", 0, "metrics port override")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	applyOverride(&cfg.Dataset.Name, *datasetName)
	applyOverride(&cfg.Dataset.Dir, *dataDir)
	applyOverride(&cfg.Dataset.Split, *split)
	applyOverride(&cfg.Qdrant.Addr, *qdrantAddr)
	applyOverride(&cfg.Qdrant.Collection, *collection)
	applyOverride(&cfg.Embedding.Endpoint, *embedURL)
	if *metricsPort > 0 {
		cfg.Metrics.Port = *metricsPort
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Logging.SlogLevel()}))
	slog.SetDefault(log)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if cfg.Metrics.Port > 0 {
		met.ServeAsync(cfg.Metrics.Port)
	}

	embedder, err := buildEmbedder(ctx, cfg.Embedding)
	if err != nil {
		log.Error("embedding endpoint unusable", "error", err)
		os.Exit(1)
	}

	store, err := semantic.New(cfg.Qdrant.Addr, cfg.Qdrant.Collection)
	if err != nil {
		log.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	if err := store.Ping(ctx); err != nil {
		log.Error("qdrant unreachable", "addr", cfg.Qdrant.Addr, "error", err)
		store.Close()
		os.Exit(1)
	}
	log.Info("connected to Qdrant", "addr", cfg.Qdrant.Addr, "collection", cfg.Qdrant.Collection)

	load := func() (*dataset.Dataset, error) {
		return dataset.Load(cfg.Dataset.Path(), cfg.Dataset.Split)
	}
	runner := run.New(load, embedder, store, run.Options{
		Cutoffs: cfg.Eval.Cutoffs,
		Search:  search.Options{Workers: cfg.Eval.Workers, Logger: log},
		Logger:  log,
	})

	start := time.Now()
	summary, report, err := runner.RunEvaluation(ctx)
	mRunDur.Since(start)
	mQueriesProcessed.Add(int64(report.Processed))
	mQueriesSkipped.Add(int64(report.Skipped))
	if err != nil {
		log.Error("evaluation failed", "phase", string(runner.Phase()), "error", err)
		os.Exit(1)
	}

	log.Info("evaluation done",
		"dataset", cfg.Dataset.Name,
		"split", cfg.Dataset.Split,
		"queries", summary.Queries,
		"skipped", report.Skipped,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	printSummary(summary)
}

func applyOverride(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func buildEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (embed.Embedder, error) {
	var e embed.Embedder
	if cfg.Provider == "openai" {
		e = embed.NewOpenAIEmbedder(embed.OpenAIOptions{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
			Dims:    cfg.Dims,
		})
	} else {
		e = embed.NewClient(embed.Options{
			Endpoint:       cfg.Endpoint,
			VectorKey:      cfg.Key(),
			Timeout:        cfg.Timeout(),
			Dims:           cfg.Dims,
			RetryOnTimeout: cfg.RetryOnTimeout,
			RateLimit:      cfg.RateLimit,
		})
	}
	if err := embed.Probe(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func printSummary(s evalmetrics.Summary) {
	ks := make([]int, 0, len(s.NDCG))
	for k := range s.NDCG {
		ks = append(ks, k)
	}
	sort.Ints(ks)

	fmt.Printf("%-10s %10s %10s %10s %10s\n", "k", "NDCG", "MAP", "Recall", "P")
	for _, k := range ks {
		fmt.Printf("%-10d %10.4f %10.4f %10.4f %10.4f\n",
			k, s.NDCG[k], s.MAP[k], s.Recall[k], s.Precision[k])
	}
}
