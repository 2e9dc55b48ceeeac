// Package notify delivers access-flow notifications to the external
// notification service.
package notify

import (
	"context"
	"log"

	"github.com/zlnvch/fluxcanvas/models"
	"github.com/zlnvch/fluxcanvas/mq"
)

type Sink interface {
	Notify(ctx context.Context, event models.NotificationEvent) error
}

// QueueSink publishes each event as a JSON message on a queue read by the
// notification service.
type QueueSink struct {
	queue mq.MessageQueue
}

func NewQueueSink(queue mq.MessageQueue) *QueueSink {
	return &QueueSink{queue: queue}
}

func (s *QueueSink) Notify(ctx context.Context, event models.NotificationEvent) error {
	return mq.SendJSON(ctx, s.queue, event)
}

// LogSink only logs events. Used in dev mode when no queue is configured.
type LogSink struct{}

func (LogSink) Notify(ctx context.Context, event models.NotificationEvent) error {
	log.Printf("notification %s from %s to %s (canvas %s)", event.Type, event.FromUserId, event.ToUserId, event.CanvasId)
	return nil
}
