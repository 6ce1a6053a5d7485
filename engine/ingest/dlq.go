package ingest

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/densemark/densemark/pkg/natsutil"
)

// NATSDeadLetters publishes failed documents to a NATS subject.
type NATSDeadLetters struct {
	nc      *nats.Conn
	subject string
}

// NewNATSDeadLetters creates a NATS-backed dead letter sink. An empty
// subject uses DLQSubject.
func NewNATSDeadLetters(nc *nats.Conn, subject string) *NATSDeadLetters {
	if subject == "" {
		subject = DLQSubject
	}
	return &NATSDeadLetters{nc: nc, subject: subject}
}

// DeadLetter implements DeadLetterer.
func (d *NATSDeadLetters) DeadLetter(ctx context.Context, dl DeadLetter) error {
	return natsutil.Publish(ctx, d.nc, d.subject, dl)
}
