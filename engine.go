package sqslistener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"
)

// Engine runs one listener: a pool of poller workers against a single queue
// with a single handler. Stop is cooperative: in-flight batches are always
// finished, only new receive calls are suppressed.
type Engine struct {
	client     SQSClient
	cfg        Config
	batch      BatchHandler
	perMessage PerMessageHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine builds an engine for one registration. The registration's config
// is resolved against the environment and validated; the handler must match
// the configured mode.
func NewEngine(client SQSClient, reg Registration) (*Engine, error) {
	if reg.Config.Mode == "" && reg.Batch == nil && reg.PerMessage != nil {
		reg.Config.Mode = ModePerMessage
	}
	cfg := reg.Config.resolve()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case ModeBatch:
		if reg.Batch == nil {
			return nil, fmt.Errorf("mode %q requires a batch handler", cfg.Mode)
		}
	case ModePerMessage:
		if reg.PerMessage == nil {
			return nil, fmt.Errorf("mode %q requires a per-message handler", cfg.Mode)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		client:     client,
		cfg:        cfg,
		batch:      reg.Batch,
		perMessage: reg.PerMessage,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start spawns the worker pool and, when configured, the queue stats
// monitor. It returns immediately; use Join to wait for shutdown.
func (e *Engine) Start() {
	log.Info().
		Str("queue", e.cfg.QueueURL).
		Str("mode", e.cfg.Mode).
		Int32("wait_time", aws.ToInt32(e.cfg.WaitTime)).
		Int32("batch_size", e.cfg.BatchSize).
		Int32("visibility_secs", e.cfg.VisibilitySecs).
		Int("workers", e.cfg.WorkerCount).
		Msg("Starting listener engine")

	for i := 0; i < e.cfg.WorkerCount; i++ {
		w := &pollerWorker{
			id:         i,
			client:     e.client,
			cfg:        e.cfg,
			batch:      e.batch,
			perMessage: e.perMessage,
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			w.run(e.ctx)
		}()
	}

	if e.cfg.StatsInterval > 0 {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.monitorQueueStats()
		}()
	}
}

// Stop sets the cooperative stop signal. Workers finish their in-flight
// batch and exit; no new receive calls are issued.
func (e *Engine) Stop() {
	e.cancel()
}

// Join blocks until every worker (and the stats monitor) has exited.
func (e *Engine) Join() {
	e.wg.Wait()
}

func (e *Engine) monitorQueueStats() {
	ticker := time.NewTicker(e.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.logQueueStats()
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Engine) logQueueStats() {
	result, err := e.client.GetQueueAttributes(e.ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(e.cfg.QueueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
			types.QueueAttributeNameApproximateNumberOfMessagesDelayed,
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch queue stats")
		return
	}

	log.Info().
		Str("available", result.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)]).
		Str("in_flight", result.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible)]).
		Str("delayed", result.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessagesDelayed)]).
		Msg("SQS queue stats")
}
