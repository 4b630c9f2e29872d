package sqslistener

import (
	"encoding/json"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Message is one SQS delivery handed to a handler. Fields are fixed at
// receive time; the receipt handle identifies this delivery only and is
// what delete/visibility calls operate on.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          string
	Attributes    map[string]string
	ReceiveCount  int

	raw types.Message
}

func newMessage(m types.Message) Message {
	msg := Message{
		ID:            aws.ToString(m.MessageId),
		ReceiptHandle: aws.ToString(m.ReceiptHandle),
		Body:          aws.ToString(m.Body),
		Attributes:    make(map[string]string, len(m.Attributes)),
		raw:           m,
	}
	for k, v := range m.Attributes {
		msg.Attributes[k] = v
	}
	if rc, ok := m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
		if n, err := strconv.Atoi(rc); err == nil {
			msg.ReceiveCount = n
		}
	}
	return msg
}

// UnmarshalBody parses the message body as JSON into v.
func (m Message) UnmarshalBody(v any) error {
	return json.Unmarshal([]byte(m.Body), v)
}

// MessageAttributes returns a flattened view of the SQS message attributes:
// string values as string, binary values as []byte. Assumes the receive call
// requested MessageAttributeNames=["All"], which the engine always does.
func (m Message) MessageAttributes() map[string]any {
	out := make(map[string]any, len(m.raw.MessageAttributes))
	for k, v := range m.raw.MessageAttributes {
		switch {
		case v.StringValue != nil:
			out[k] = aws.ToString(v.StringValue)
		case v.BinaryValue != nil:
			out[k] = v.BinaryValue
		default:
			out[k] = v
		}
	}
	return out
}

// short form for log fields, receipt handles run to hundreds of characters
func shortHandle(rh string) string {
	if len(rh) > 12 {
		return rh[:12]
	}
	return rh
}
