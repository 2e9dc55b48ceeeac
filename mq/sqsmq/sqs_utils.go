package sqsmq

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/zlnvch/fluxcanvas/mq"
)

const (
	// long polling keeps idle consumers from hammering the API
	receiveWaitSeconds = 20
	stringDataType     = "String"
)

func newSQSClient(ctx context.Context, devMode bool, sqsEndpoint string) (*sqs.Client, error) {
	if devMode {
		cfg, err := config.LoadDefaultConfig(ctx,
			config.WithRegion("us-east-1"),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("local", "local", "")),
		)
		if err != nil {
			return nil, err
		}
		return sqs.NewFromConfig(cfg, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(sqsEndpoint)
		}), nil
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(cfg), nil
}

func lookupQueueURL(ctx context.Context, client *sqs.Client, queueName string) (string, error) {
	out, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queueName)})
	if err != nil {
		return "", fmt.Errorf("queue %q not found in SQS: %w", queueName, err)
	}
	return aws.ToString(out.QueueUrl), nil
}

func sendInput(queueURL, body string, attributes map[string]string) *sqs.SendMessageInput {
	return &sqs.SendMessageInput{
		QueueUrl:          aws.String(queueURL),
		MessageBody:       aws.String(body),
		MessageAttributes: toMessageAttributes(attributes),
	}
}

func receiveInput(queueURL string, visibilityTimeout int32) *sqs.ReceiveMessageInput {
	return &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(queueURL),
		MaxNumberOfMessages:   1,
		WaitTimeSeconds:       receiveWaitSeconds,
		VisibilityTimeout:     visibilityTimeout,
		MessageAttributeNames: []string{mq.AttrKind, mq.AttrCanvasId},
	}
}

func deleteInput(queueURL string, msg *mq.Message) *sqs.DeleteMessageInput {
	return &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(msg.Id),
	}
}

// toMessageAttributes drops empty values; SQS rejects attributes without one.
func toMessageAttributes(attributes map[string]string) map[string]types.MessageAttributeValue {
	if len(attributes) == 0 {
		return nil
	}
	out := make(map[string]types.MessageAttributeValue, len(attributes))
	for name, value := range attributes {
		if value == "" {
			continue
		}
		out[name] = types.MessageAttributeValue{
			DataType:    aws.String(stringDataType),
			StringValue: aws.String(value),
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func fromMessageAttributes(attributes map[string]types.MessageAttributeValue) map[string]string {
	out := make(map[string]string, len(attributes))
	for name, value := range attributes {
		if value.StringValue != nil {
			out[name] = *value.StringValue
		}
	}
	return out
}

func toMessage(msg types.Message) *mq.Message {
	return &mq.Message{
		Id:         aws.ToString(msg.ReceiptHandle),
		Body:       aws.ToString(msg.Body),
		Attributes: fromMessageAttributes(msg.MessageAttributes),
	}
}
