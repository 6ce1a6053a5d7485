// Command dlq-watch tails the ingestion dead-letter subject and logs
// every document that failed to ingest.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/nats-io/nats.go"

	"github.com/densemark/densemark/engine/ingest"
	"github.com/densemark/densemark/pkg/natsutil"
)

func main() {
	var (
		natsURL = flag.String("nats", nats.DefaultURL, "NATS URL")
		subject = flag.String("subject", ingest.DLQSubject, "dead-letter subject")
	)
	flag.Parse()

	log := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	nc, err := nats.Connect(*natsURL)
	if err != nil {
		log.Error("nats connect failed", "url", *natsURL, "error", err)
		os.Exit(1)
	}
	defer nc.Drain()

	sub, err := natsutil.Subscribe(nc, *subject, func(_ context.Context, dl ingest.DeadLetter) {
		log.Warn("dead letter", "doc_id", dl.DocID, "stage", dl.Stage, "error", dl.Error)
	})
	if err != nil {
		log.Error("subscribe failed", "subject", *subject, "error", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()

	log.Info("watching dead letters", "subject", *subject)
	<-ctx.Done()
	log.Info("shutting down")
}
