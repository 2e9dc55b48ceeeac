package sqsmq

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/fluxcanvas/mq"
)

func TestSendInput_CarriesCanvasAttributes(t *testing.T) {
	in := sendInput("https://sqs.local/000/cleanup", `{"canvasId":"c1"}`, map[string]string{
		mq.AttrKind:     "delete_canvas",
		mq.AttrCanvasId: "c1",
	})

	assert.Equal(t, "https://sqs.local/000/cleanup", aws.ToString(in.QueueUrl))
	assert.Equal(t, `{"canvasId":"c1"}`, aws.ToString(in.MessageBody))
	require.Len(t, in.MessageAttributes, 2)
	assert.Equal(t, "String", aws.ToString(in.MessageAttributes[mq.AttrCanvasId].DataType))
	assert.Equal(t, "c1", aws.ToString(in.MessageAttributes[mq.AttrCanvasId].StringValue))
	assert.Equal(t, "delete_canvas", aws.ToString(in.MessageAttributes[mq.AttrKind].StringValue))
}

func TestSendInput_SkipsEmptyAttributes(t *testing.T) {
	in := sendInput("q", "{}", map[string]string{mq.AttrKind: "friend_request", mq.AttrCanvasId: ""})
	assert.Len(t, in.MessageAttributes, 1)
	assert.NotContains(t, in.MessageAttributes, mq.AttrCanvasId)

	assert.Nil(t, sendInput("q", "{}", nil).MessageAttributes)
	assert.Nil(t, sendInput("q", "{}", map[string]string{mq.AttrCanvasId: ""}).MessageAttributes)
}

func TestReceiveInput_AsksForCanvasAttributes(t *testing.T) {
	in := receiveInput("q", 300)
	assert.Equal(t, int32(300), in.VisibilityTimeout)
	assert.Equal(t, int32(1), in.MaxNumberOfMessages)
	assert.ElementsMatch(t, []string{mq.AttrKind, mq.AttrCanvasId}, in.MessageAttributeNames)
}

func TestToMessage(t *testing.T) {
	msg := toMessage(types.Message{
		ReceiptHandle: aws.String("receipt-1"),
		Body:          aws.String(`{"canvasId":"c1"}`),
		MessageAttributes: map[string]types.MessageAttributeValue{
			mq.AttrCanvasId: {DataType: aws.String("String"), StringValue: aws.String("c1")},
			"blob":          {DataType: aws.String("Binary"), BinaryValue: []byte{1}},
		},
	})

	assert.Equal(t, "receipt-1", msg.Id)
	assert.Equal(t, `{"canvasId":"c1"}`, msg.Body)
	assert.Equal(t, map[string]string{mq.AttrCanvasId: "c1"}, msg.Attributes)

	assert.Equal(t, deleteInput("q", msg).ReceiptHandle, aws.String("receipt-1"))
}
