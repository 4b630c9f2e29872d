package sqslistener

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"
)

// SQS protocol limit on entries per DeleteMessageBatch call.
const deleteChunkSize = 10

// deleteHandles acknowledges the given receipt handles in input order,
// chunked to the protocol limit. A failed chunk is logged and skipped;
// undeleted messages come back after their visibility window lapses, so
// there is no in-call retry.
func (w *pollerWorker) deleteHandles(ctx context.Context, handles []string) {
	if len(handles) == 0 {
		return
	}

	deleted := 0
	for start := 0; start < len(handles); start += deleteChunkSize {
		end := start + deleteChunkSize
		if end > len(handles) {
			end = len(handles)
		}
		chunk := handles[start:end]

		entries := make([]types.DeleteMessageBatchRequestEntry, len(chunk))
		for i, rh := range chunk {
			entries[i] = types.DeleteMessageBatchRequestEntry{
				Id:            aws.String(strconv.Itoa(i)),
				ReceiptHandle: aws.String(rh),
			}
		}

		_, err := w.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(w.cfg.QueueURL),
			Entries:  entries,
		})
		if err != nil {
			log.Error().Err(err).Int("handles", len(chunk)).Msg("Failed to delete message batch")
			continue
		}
		deleted += len(chunk)
	}

	if deleted > 0 {
		log.Info().Int("count", deleted).Msg("Deleted messages from SQS")
	}
}
