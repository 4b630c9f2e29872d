package sqslistener

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestDeleteHandlesChunking(t *testing.T) {
	tests := []struct {
		name       string
		count      int
		wantChunks []int
	}{
		{name: "empty", count: 0, wantChunks: nil},
		{name: "single", count: 1, wantChunks: []int{1}},
		{name: "exactly one chunk", count: 10, wantChunks: []int{10}},
		{name: "one over", count: 11, wantChunks: []int{10, 1}},
		{name: "two and a half chunks", count: 25, wantChunks: []int{10, 10, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSQS := new(MockSQSClient)
			var calls []*sqs.DeleteMessageBatchInput
			mockSQS.On("DeleteMessageBatch", mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) {
					calls = append(calls, args.Get(1).(*sqs.DeleteMessageBatchInput))
				}).
				Return(&sqs.DeleteMessageBatchOutput{}, nil)

			w := &pollerWorker{client: mockSQS, cfg: testConfig(ModeBatch)}

			handles := make([]string, tt.count)
			for i := range handles {
				handles[i] = fmt.Sprintf("rh%d", i)
			}
			w.deleteHandles(context.Background(), handles)

			assert.Len(t, calls, len(tt.wantChunks))

			// chunks partition the input in order
			next := 0
			for i, call := range calls {
				assert.Len(t, call.Entries, tt.wantChunks[i])
				for _, e := range call.Entries {
					assert.Equal(t, fmt.Sprintf("rh%d", next), *e.ReceiptHandle)
					next++
				}
			}
			assert.Equal(t, tt.count, next)
		})
	}
}

func TestDeleteFailedChunkDoesNotBlockRest(t *testing.T) {
	mockSQS := new(MockSQSClient)
	mockSQS.On("DeleteMessageBatch", mock.Anything, mock.Anything).
		Return(nil, assert.AnError).Once()
	mockSQS.On("DeleteMessageBatch", mock.Anything, mock.Anything).
		Return(&sqs.DeleteMessageBatchOutput{}, nil)

	w := &pollerWorker{client: mockSQS, cfg: testConfig(ModeBatch)}

	handles := make([]string, 15)
	for i := range handles {
		handles[i] = fmt.Sprintf("rh%d", i)
	}
	w.deleteHandles(context.Background(), handles)

	// first chunk fails, second is still attempted
	mockSQS.AssertNumberOfCalls(t, "DeleteMessageBatch", 2)
}
