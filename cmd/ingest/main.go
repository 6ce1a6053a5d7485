// Command ingest embeds a BEIR-layout corpus and loads it into a Qdrant
// collection, rebuilding the collection first.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/densemark/densemark/engine/dataset"
	"github.com/densemark/densemark/engine/embed"
	"github.com/densemark/densemark/engine/ingest"
	"github.com/densemark/densemark/engine/run"
	"github.com/densemark/densemark/engine/semantic"
	"github.com/densemark/densemark/internal/config"
	"github.com/densemark/densemark/pkg/metrics"
	"github.com/densemark/densemark/pkg/resilience"
)

var met = metrics.New()

var (
	mDocsInserted = met.Counter("densemark_ingest_docs_inserted_total", "Documents written to the vector store")
	mDocsSkipped  = met.Counter("densemark_ingest_docs_skipped_total", "Documents skipped after a failure")
	mRunDur       = met.Histogram("densemark_ingest_run_duration_seconds", "Wall time of the ingestion run", nil)
)

func main() {
	var (
		configPath  = flag.String("config", "", "YAML config path (empty = defaults)")
		datasetName = flag.String("dataset", "", "dataset name override")
		dataDir     = flag.String("dir", "", "datasets root override")
		qdrantAddr  = flag.String("qdrant", "", "Qdrant gRPC address override")
		collection  = flag.String("collection", "", "collection name override")
		embedURL    = flag.String("embed", "", "embedding endpoint override")
		natsURL     = flag.String("nats", "", "NATS URL override for the dead-letter sink")
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
	applyOverride(&cfg.Qdrant.Addr, *qdrantAddr)
	applyOverride(&cfg.Qdrant.Collection, *collection)
	applyOverride(&cfg.Embedding.Endpoint, *embedURL)
	applyOverride(&cfg.NATS.URL, *natsURL)
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
	log.Info("embedding endpoint ready", "provider", cfg.Embedding.Provider)

	store, err := semantic.New(cfg.Qdrant.Addr, cfg.Qdrant.Collection)
	if err != nil {
		log.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	store.SetSettle(cfg.Qdrant.Settle())
	if err := store.Ping(ctx); err != nil {
		log.Error("qdrant unreachable", "addr", cfg.Qdrant.Addr, "error", err)
		store.Close()
		os.Exit(1)
	}
	log.Info("connected to Qdrant", "addr", cfg.Qdrant.Addr, "collection", cfg.Qdrant.Collection)

	ingOpts := ingest.Options{
		Workers:   cfg.Ingest.Workers,
		FlushSize: cfg.Ingest.FlushSize,
		Logger:    log,
	}
	if cfg.Ingest.BreakerThreshold > 0 {
		ingOpts.Breaker = resilience.NewBreaker(resilience.BreakerOpts{
			FailThreshold: cfg.Ingest.BreakerThreshold,
			Timeout:       cfg.Ingest.BreakerCooldown(),
		})
	}
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			log.Error("nats connect failed", "url", cfg.NATS.URL, "error", err)
			os.Exit(1)
		}
		defer nc.Drain()
		ingOpts.DLQ = ingest.NewNATSDeadLetters(nc, ingest.DLQSubject)
		log.Info("dead-letter sink enabled", "subject", ingest.DLQSubject)
	}

	load := func() (*dataset.Dataset, error) {
		return dataset.Load(cfg.Dataset.Path(), cfg.Dataset.Split)
	}
	runner := run.New(load, embedder, store, run.Options{
		Dims:   cfg.Embedding.Dims,
		Ingest: ingOpts,
		Logger: log,
	})

	start := time.Now()
	report, err := runner.RunIngestion(ctx)
	mRunDur.Since(start)
	mDocsInserted.Add(int64(report.Inserted))
	mDocsSkipped.Add(int64(report.Skipped))
	if err != nil {
		log.Error("ingestion failed", "phase", string(runner.Phase()), "error", err)
		os.Exit(1)
	}
	log.Info("ingestion done",
		"dataset", cfg.Dataset.Name,
		"inserted", report.Inserted,
		"skipped", report.Skipped,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
}

func applyOverride(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// buildEmbedder wires the configured provider and probes it so a wrong
// key, model, or dimensionality fails before the collection is touched.
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
