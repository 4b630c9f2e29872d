package sqslistener

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"
)

// visibilityExtender is the heartbeat lease for one in-flight message. It
// periodically re-extends the message's visibility timeout so the queue does
// not redeliver it while a handler is still working, and stops on its own
// once the cumulative granted extension reaches the configured cap.
//
// Exactly one extender exists per in-flight message. The owning worker must
// call stopAndWait before acknowledging the message's batch.
type visibilityExtender struct {
	client     SQSClient
	queueURL   string
	handle     string
	visibility int32
	maxExtend  int32
	interval   time.Duration

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newVisibilityExtender(client SQSClient, cfg Config, receiptHandle string) *visibilityExtender {
	return &visibilityExtender{
		client:     client,
		queueURL:   cfg.QueueURL,
		handle:     receiptHandle,
		visibility: cfg.VisibilitySecs,
		maxExtend:  aws.ToInt32(cfg.MaxExtendSecs),
		interval:   cfg.heartbeatInterval(),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (e *visibilityExtender) start(ctx context.Context) {
	go e.run(ctx)
}

// run ticks every interval until stopped. Each tick re-grants visibility
// seconds of invisibility, so the extension granted so far advances by
// visibility per tick; the loop exits once that total reaches maxExtend.
// With visibility=2 and maxExtend=6 that is exactly three ticks.
func (e *visibilityExtender) run(ctx context.Context) {
	defer close(e.done)

	timer := time.NewTimer(e.interval)
	defer timer.Stop()

	var extended int32
	for extended < e.maxExtend {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-timer.C:
		}

		// the owner may have signalled while the timer fired; never issue an
		// extension after stop
		select {
		case <-e.stopCh:
			return
		default:
		}

		_, err := e.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
			QueueUrl:          aws.String(e.queueURL),
			ReceiptHandle:     aws.String(e.handle),
			VisibilityTimeout: e.visibility,
		})
		if err != nil {
			// the previous window may still cover the gap, keep the schedule
			log.Warn().Err(err).Str("receipt_handle", shortHandle(e.handle)).Msg("Failed to extend visibility timeout")
		} else {
			log.Debug().Str("receipt_handle", shortHandle(e.handle)).Int32("seconds", e.visibility).Msg("Extended message visibility timeout")
		}

		extended += e.visibility
		timer.Reset(e.interval)
	}
}

// stopAndWait signals the lease to stop and blocks until its goroutine has
// exited. No final extension is issued. Safe to call more than once.
func (e *visibilityExtender) stopAndWait() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	<-e.done
}
