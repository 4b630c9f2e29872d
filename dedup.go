package sqslistener

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// DedupStore tracks message IDs that have already been processed, so
// redeliveries of an acknowledged-then-lost message can be skipped instead
// of reprocessed. At-least-once delivery makes this advisory, not a
// correctness guarantee.
type DedupStore interface {
	// checks if a message has already been processed
	IsProcessed(ctx context.Context, messageID string) (bool, error)

	// records that a message has been processed
	MarkProcessed(ctx context.Context, messageID string) error

	// removes old entries to prevent unbounded growth
	Cleanup(ctx context.Context, olderThan time.Duration) error

	// releases any resources, could be a noop if not required
	Close() error
}

// WithDeduplication wraps a per-message handler: known message IDs are
// acknowledged without invoking next, and successes are recorded. Store
// errors fail open: the message is processed normally rather than held for
// redelivery.
func WithDeduplication(store DedupStore, next PerMessageHandler) PerMessageHandler {
	return func(ctx context.Context, msg Message) (bool, error) {
		processed, err := store.IsProcessed(ctx, msg.ID)
		if err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to check if message was processed")
		} else if processed {
			log.Info().Str("message_id", msg.ID).Msg("Duplicate message detected, skipping")
			return true, nil
		}

		ok, err := next(ctx, msg)
		if err != nil || !ok {
			return ok, err
		}

		if err := store.MarkProcessed(ctx, msg.ID); err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to mark message as processed")
		}
		return true, nil
	}
}
