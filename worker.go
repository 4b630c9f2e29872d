package sqslistener

import (
	"context"
	"math/rand"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"
)

// pause before retrying after a failed receive call
const receiveErrorPause = 5 * time.Second

// pollerWorker owns one receive→dispatch→delete cycle. Each worker is an
// independent unit of concurrency; workers share the SQS client and config
// but never per-message state, since SQS gives each received batch to
// exactly one receiver.
type pollerWorker struct {
	id         int
	client     SQSClient
	cfg        Config
	batch      BatchHandler
	perMessage PerMessageHandler
}

func (w *pollerWorker) run(ctx context.Context) {
	log.Debug().Int("worker_id", w.id).Msg("Poller worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Int("worker_id", w.id).Msg("Poller worker stopping")
			return
		default:
		}

		batch, err := w.receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Int("worker_id", w.id).Msg("Failed to receive messages from SQS")
			w.sleep(ctx, receiveErrorPause)
			continue
		}

		if len(batch) == 0 {
			w.idleSleep(ctx)
			continue
		}

		// the batch is fully resolved before the next receive call
		w.processBatch(ctx, batch)
	}
}

func (w *pollerWorker) receive(ctx context.Context) ([]Message, error) {
	out, err := w.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(w.cfg.QueueURL),
		MaxNumberOfMessages: w.cfg.BatchSize,
		WaitTimeSeconds:     aws.ToInt32(w.cfg.WaitTime),
		VisibilityTimeout:   w.cfg.VisibilitySecs,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
			types.MessageSystemAttributeNameSentTimestamp,
		},
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, err
	}

	if len(out.Messages) == 0 {
		return nil, nil
	}
	log.Debug().Int("worker_id", w.id).Int("count", len(out.Messages)).Msg("Received messages from SQS")

	batch := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		batch = append(batch, newMessage(m))
	}
	return batch, nil
}

// processBatch starts one visibility lease per message, dispatches per mode,
// then stops and joins every lease before deleting the successful handles.
func (w *pollerWorker) processBatch(ctx context.Context, batch []Message) {
	// shutdown means finish the current batch: the handler and the deletes
	// run under a context that survives Stop, while the leases and the loop
	// keep observing it
	batchCtx := context.WithoutCancel(ctx)

	extenders := make([]*visibilityExtender, 0, len(batch))
	for _, m := range batch {
		ext := newVisibilityExtender(w.client, w.cfg, m.ReceiptHandle)
		ext.start(ctx)
		extenders = append(extenders, ext)
	}

	var ok []string
	if w.cfg.Mode == ModePerMessage {
		ok = w.dispatchPerMessage(batchCtx, batch)
	} else {
		ok = w.dispatchBatch(batchCtx, batch)
	}

	// leases must be down before acknowledgement
	for _, ext := range extenders {
		ext.stopAndWait()
	}

	w.deleteHandles(batchCtx, ok)
}

// dispatchBatch calls the batch handler once with the whole ordered batch
// and returns the handles to acknowledge. A handler error or panic fails the
// entire batch: nothing is deleted and redelivery is the retry path.
func (w *pollerWorker) dispatchBatch(ctx context.Context, batch []Message) []string {
	result, err := callBatch(ctx, w.batch, batch)
	if err != nil {
		log.Error().Err(err).Int("worker_id", w.id).Int("count", len(batch)).Msg("Batch handler failed, keeping whole batch for redelivery")
		return nil
	}

	inBatch := make(map[string]struct{}, len(batch))
	for _, m := range batch {
		inBatch[m.ReceiptHandle] = struct{}{}
	}

	failed := make(map[string]struct{}, len(result.FailedHandles))
	for _, rh := range result.FailedHandles {
		if _, known := inBatch[rh]; !known {
			log.Warn().Str("receipt_handle", shortHandle(rh)).Msg("Batch handler reported a handle not in the batch, ignoring")
			continue
		}
		failed[rh] = struct{}{}
	}

	ok := make([]string, 0, len(batch))
	for _, m := range batch {
		if _, bad := failed[m.ReceiptHandle]; !bad {
			ok = append(ok, m.ReceiptHandle)
		}
	}

	if len(failed) > 0 {
		log.Warn().Int("ok", len(ok)).Int("failed", len(failed)).Msg("Batch processed with failures")
	} else {
		log.Info().Int("ok", len(ok)).Msg("Batch processed successfully")
	}
	return ok
}

// dispatchPerMessage calls the handler once per message, synchronously, in
// receipt order. A failure for one message never stops the rest of the
// batch; successes accumulate into a single deletion set.
func (w *pollerWorker) dispatchPerMessage(ctx context.Context, batch []Message) []string {
	ok := make([]string, 0, len(batch))
	failed := 0
	for _, m := range batch {
		success, err := callPerMessage(ctx, w.perMessage, m)
		if err != nil {
			failed++
			log.Error().Err(err).Str("message_id", m.ID).Msg("Handler failed for message")
			continue
		}
		if success {
			ok = append(ok, m.ReceiptHandle)
		} else {
			failed++
		}
	}
	log.Info().Int("ok", len(ok)).Int("failed", failed).Msg("Per-message batch processed")
	return ok
}

// idleSleep backs off after an empty receive so workers don't fall into
// synchronized receive storms.
func (w *pollerWorker) idleSleep(ctx context.Context) {
	w.sleep(ctx, w.idleBackoff())
}

// idleBackoff picks a random duration in [0, IdleSleepMax).
func (w *pollerWorker) idleBackoff() time.Duration {
	return time.Duration(rand.Float64() * float64(w.cfg.IdleSleepMax))
}

func (w *pollerWorker) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
