package sqslistener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func testConfig(mode string) Config {
	return Config{
		QueueURL:       "test-queue",
		Mode:           mode,
		WaitTime:       aws.Int32(1),
		BatchSize:      10,
		VisibilitySecs: 60,
		MaxExtendSecs:  aws.Int32(900),
		WorkerCount:    1,
		IdleSleepMax:   10 * time.Millisecond,
	}
}

func deletedHandles(input *sqs.DeleteMessageBatchInput) []string {
	handles := make([]string, 0, len(input.Entries))
	for _, e := range input.Entries {
		handles = append(handles, aws.ToString(e.ReceiptHandle))
	}
	return handles
}

func TestBatchModeDeletesOnlySuccesses(t *testing.T) {
	mockSQS := new(MockSQSClient)
	var deletes []*sqs.DeleteMessageBatchInput
	mockSQS.On("DeleteMessageBatch", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			deletes = append(deletes, args.Get(1).(*sqs.DeleteMessageBatchInput))
		}).
		Return(&sqs.DeleteMessageBatchOutput{}, nil)

	w := &pollerWorker{
		client: mockSQS,
		cfg:    testConfig(ModeBatch),
		batch: func(ctx context.Context, batch []Message) (BatchResult, error) {
			return BatchResult{FailedHandles: []string{"rh2"}}, nil
		},
	}

	w.processBatch(context.Background(), []Message{
		testMessage("m1", "rh1"),
		testMessage("m2", "rh2"),
	})

	assert.Len(t, deletes, 1)
	assert.Equal(t, []string{"rh1"}, deletedHandles(deletes[0]))
}

func TestBatchModeFailureDeletesNothing(t *testing.T) {
	tests := []struct {
		name    string
		handler BatchHandler
	}{
		{
			name: "handler returns error",
			handler: func(ctx context.Context, batch []Message) (BatchResult, error) {
				return BatchResult{}, errors.New("boom")
			},
		},
		{
			name: "handler panics",
			handler: func(ctx context.Context, batch []Message) (BatchResult, error) {
				panic("boom")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSQS := new(MockSQSClient)

			w := &pollerWorker{
				client: mockSQS,
				cfg:    testConfig(ModeBatch),
				batch:  tt.handler,
			}

			w.processBatch(context.Background(), []Message{
				testMessage("m1", "rh1"),
				testMessage("m2", "rh2"),
			})

			mockSQS.AssertNotCalled(t, "DeleteMessageBatch", mock.Anything, mock.Anything)
		})
	}
}

func TestBatchModeIgnoresUnknownFailedHandles(t *testing.T) {
	mockSQS := new(MockSQSClient)
	var deletes []*sqs.DeleteMessageBatchInput
	mockSQS.On("DeleteMessageBatch", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			deletes = append(deletes, args.Get(1).(*sqs.DeleteMessageBatchInput))
		}).
		Return(&sqs.DeleteMessageBatchOutput{}, nil)

	w := &pollerWorker{
		client: mockSQS,
		cfg:    testConfig(ModeBatch),
		batch: func(ctx context.Context, batch []Message) (BatchResult, error) {
			return BatchResult{FailedHandles: []string{"not-in-batch"}}, nil
		},
	}

	w.processBatch(context.Background(), []Message{
		testMessage("m1", "rh1"),
		testMessage("m2", "rh2"),
	})

	assert.Len(t, deletes, 1)
	assert.Equal(t, []string{"rh1", "rh2"}, deletedHandles(deletes[0]))
}

func TestPerMessageModeIsolatesFailures(t *testing.T) {
	mockSQS := new(MockSQSClient)
	var deletes []*sqs.DeleteMessageBatchInput
	mockSQS.On("DeleteMessageBatch", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			deletes = append(deletes, args.Get(1).(*sqs.DeleteMessageBatchInput))
		}).
		Return(&sqs.DeleteMessageBatchOutput{}, nil)

	var seen []string
	w := &pollerWorker{
		client: mockSQS,
		cfg:    testConfig(ModePerMessage),
		perMessage: func(ctx context.Context, msg Message) (bool, error) {
			seen = append(seen, msg.ReceiptHandle)
			switch msg.ReceiptHandle {
			case "rh1":
				return true, nil
			case "rh2":
				return false, nil
			default:
				return false, errors.New("boom")
			}
		},
	}

	w.processBatch(context.Background(), []Message{
		testMessage("m1", "rh1"),
		testMessage("m2", "rh2"),
		testMessage("m3", "rh3"),
	})

	// every message is attempted in receipt order despite failures
	assert.Equal(t, []string{"rh1", "rh2", "rh3"}, seen)
	assert.Len(t, deletes, 1)
	assert.Equal(t, []string{"rh1"}, deletedHandles(deletes[0]))
}

func TestPerMessageModePanicDoesNotStopBatch(t *testing.T) {
	mockSQS := new(MockSQSClient)
	var deletes []*sqs.DeleteMessageBatchInput
	mockSQS.On("DeleteMessageBatch", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			deletes = append(deletes, args.Get(1).(*sqs.DeleteMessageBatchInput))
		}).
		Return(&sqs.DeleteMessageBatchOutput{}, nil)

	w := &pollerWorker{
		client: mockSQS,
		cfg:    testConfig(ModePerMessage),
		perMessage: func(ctx context.Context, msg Message) (bool, error) {
			if msg.ReceiptHandle == "rh2" {
				panic("boom")
			}
			return true, nil
		},
	}

	w.processBatch(context.Background(), []Message{
		testMessage("m1", "rh1"),
		testMessage("m2", "rh2"),
		testMessage("m3", "rh3"),
	})

	assert.Len(t, deletes, 1)
	assert.Equal(t, []string{"rh1", "rh3"}, deletedHandles(deletes[0]))
}

// Leases heartbeat while the handler runs and are stopped and joined before
// the deletion step: every extend event must precede the delete event.
func TestLeasesStoppedBeforeDeletion(t *testing.T) {
	var mu sync.Mutex
	var events []string
	record := func(ev string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}

	mockSQS := new(MockSQSClient)
	mockSQS.On("ChangeMessageVisibility", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { record("extend") }).
		Return(&sqs.ChangeMessageVisibilityOutput{}, nil)
	mockSQS.On("DeleteMessageBatch", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { record("delete") }).
		Return(&sqs.DeleteMessageBatchOutput{}, nil)

	cfg := testConfig(ModePerMessage)
	cfg.VisibilitySecs = 2 // heartbeat every second

	w := &pollerWorker{
		client: mockSQS,
		cfg:    cfg,
		perMessage: func(ctx context.Context, msg Message) (bool, error) {
			time.Sleep(1200 * time.Millisecond)
			return true, nil
		},
	}

	w.processBatch(context.Background(), []Message{testMessage("m1", "rh1")})

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, events)
	assert.Equal(t, "delete", events[len(events)-1])
	deleteSeen := false
	for _, ev := range events {
		if ev == "delete" {
			deleteSeen = true
			continue
		}
		assert.False(t, deleteSeen, "extend event after delete")
	}
	assert.Contains(t, events, "extend")
}

func TestIdleBackoffStaysWithinConfiguredMax(t *testing.T) {
	cfg := testConfig(ModeBatch)
	cfg.IdleSleepMax = 250 * time.Millisecond
	w := &pollerWorker{cfg: cfg}

	for i := 0; i < 1000; i++ {
		d := w.idleBackoff()
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, cfg.IdleSleepMax)
	}
}
