package sqsmq

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/zlnvch/fluxcanvas/mq"
)

// SQSMessageQueue carries canvas cleanup and notification messages. Message
// attributes travel as SQS string attributes so consumers can route on the
// canvas id and message kind.
type SQSMessageQueue struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSMessageQueue(ctx context.Context, devMode bool, sqsEndpoint string, queueName string) (*SQSMessageQueue, error) {
	client, err := newSQSClient(ctx, devMode, sqsEndpoint)
	if err != nil {
		return nil, err
	}

	queueURL, err := lookupQueueURL(ctx, client, queueName)
	if err != nil {
		return nil, err
	}

	return &SQSMessageQueue{client: client, queueURL: queueURL}, nil
}

func (q *SQSMessageQueue) Send(ctx context.Context, body string, attributes map[string]string) error {
	_, err := q.client.SendMessage(ctx, sendInput(q.queueURL, body, attributes))
	return err
}

func (q *SQSMessageQueue) Receive(ctx context.Context, visibilityTimeout int32) (*mq.Message, error) {
	resp, err := q.client.ReceiveMessage(ctx, receiveInput(q.queueURL, visibilityTimeout))
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	return toMessage(resp.Messages[0]), nil
}

func (q *SQSMessageQueue) Delete(ctx context.Context, msg *mq.Message) error {
	_, err := q.client.DeleteMessage(ctx, deleteInput(q.queueURL, msg))
	return err
}
