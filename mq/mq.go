package mq

import (
	"context"
	"encoding/json"
	"fmt"
)

// MessageQueue is an at-least-once queue. Receive returns nil when a poll
// comes back empty; a message is redelivered until it is deleted.
type MessageQueue interface {
	Send(ctx context.Context, body string, attributes map[string]string) error
	Receive(ctx context.Context, visibilityTimeout int32) (*Message, error)
	Delete(ctx context.Context, msg *Message) error
}

type Message struct {
	Id         string
	Body       string
	Attributes map[string]string
}

// Attribute names set on every message that concerns a canvas. Consumers
// filter on them without decoding the body.
const (
	AttrKind     = "kind"
	AttrCanvasId = "canvasId"
)

// Attributed is implemented by message types that carry queue attributes.
type Attributed interface {
	QueueAttributes() map[string]string
}

// SendJSON encodes v and sends it as one message, with v's attributes when it has any.
func SendJSON(ctx context.Context, queue MessageQueue, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode queue message: %w", err)
	}

	var attributes map[string]string
	if a, ok := v.(Attributed); ok {
		attributes = a.QueueAttributes()
	}
	return queue.Send(ctx, string(body), attributes)
}

// DecodeJSON decodes the body of msg into v.
func DecodeJSON(msg *Message, v any) error {
	if err := json.Unmarshal([]byte(msg.Body), v); err != nil {
		return fmt.Errorf("decode queue message %s: %w", msg.Id, err)
	}
	return nil
}
