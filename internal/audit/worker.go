package audit

import (
	"context"
	"log/slog"
)

// Worker drains Hub call records from a channel and persists them so
// the hot call path only pays for a channel send.
type Worker struct {
	publisher *Publisher
	inbox     <-chan HubCall
	logger    *slog.Logger
}

func NewWorker(publisher *Publisher, inbox <-chan HubCall, logger *slog.Logger) *Worker {
	return &Worker{publisher: publisher, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case call := <-w.inbox:
			if err := w.publisher.Record(ctx, call); err != nil {
				w.logger.Error("audit record failed",
					"operation", call.Operation,
					"error", err)
			}
		}
	}
}
