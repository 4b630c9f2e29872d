package sqslistener

import (
	"context"
	"fmt"
)

// BatchResult is what a BatchHandler reports back: the receipt handles it
// could not process. Every handle in the batch that is absent from
// FailedHandles is considered successful and will be acknowledged.
type BatchResult struct {
	FailedHandles []string
}

// BatchHandler processes one whole received batch. Returning an error (or
// panicking) fails the entire batch: nothing is deleted and every message
// becomes redeliverable once its visibility window lapses.
type BatchHandler func(ctx context.Context, batch []Message) (BatchResult, error)

// PerMessageHandler processes a single message. Return true to acknowledge
// (delete) it; false or an error keeps it for redelivery. An error for one
// message never stops the rest of its batch from being attempted.
type PerMessageHandler func(ctx context.Context, msg Message) (bool, error)

// callBatch invokes h with panic recovery; a panic is a handler error.
func callBatch(ctx context.Context, h BatchHandler, batch []Message) (result BatchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch handler panicked: %v", r)
		}
	}()
	return h(ctx, batch)
}

// callPerMessage invokes h with panic recovery; a panic is a handler error.
func callPerMessage(ctx context.Context, h PerMessageHandler, msg Message) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, msg)
}
