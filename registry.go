// Package sqslistener is a consumption engine for AWS SQS. It long-polls for
// message batches, keeps each in-flight message invisible to other receivers
// via background visibility heartbeats, hands messages to a user handler in
// batch or per-message mode, and deletes only what the handler declared
// successful. Delivery is at-least-once: anything not acknowledged comes
// back once its visibility timeout lapses.
package sqslistener

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

// Registration pairs one queue configuration with its handler. Exactly one
// of Batch or PerMessage must be set, matching Config.Mode (an unset mode is
// inferred from which handler is present).
type Registration struct {
	Config     Config
	Batch      BatchHandler
	PerMessage PerMessageHandler
}

// Registry is an explicit, ordered list of listener registrations built by
// direct calls at startup and consumed once by Run. There is no package
// level registry; the caller owns this value.
type Registry struct {
	regs []Registration
}

// RegisterBatch adds a batch-mode listener.
func (r *Registry) RegisterBatch(cfg Config, h BatchHandler) {
	cfg.Mode = ModeBatch
	r.regs = append(r.regs, Registration{Config: cfg, Batch: h})
}

// RegisterPerMessage adds a per-message-mode listener.
func (r *Registry) RegisterPerMessage(cfg Config, h PerMessageHandler) {
	cfg.Mode = ModePerMessage
	r.regs = append(r.regs, Registration{Config: cfg, PerMessage: h})
}

// Run starts an engine per registration, in registration order, then blocks
// until ctx is cancelled or a SIGINT/SIGTERM arrives. Either event sets the
// shared stop signal on every engine; Run returns once all workers have
// drained their in-flight batches and exited.
func (r *Registry) Run(ctx context.Context, client SQSClient) error {
	if len(r.regs) == 0 {
		return errors.New("no listeners registered")
	}

	engines := make([]*Engine, 0, len(r.regs))
	for _, reg := range r.regs {
		eng, err := NewEngine(client, reg)
		if err != nil {
			for _, started := range engines {
				started.Stop()
				started.Join()
			}
			return err
		}
		engines = append(engines, eng)
		eng.Start()
	}
	log.Info().Int("listeners", len(engines)).Msg("All listeners started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, draining")
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Stop signal received, draining")
	}

	for _, eng := range engines {
		eng.Stop()
	}
	for _, eng := range engines {
		eng.Join()
	}
	log.Info().Msg("All listeners stopped")
	return nil
}
