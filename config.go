package sqslistener

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// Delivery-semantics modes.
const (
	ModeBatch      = "batch"
	ModePerMessage = "per_message"
)

// Built-in defaults, overridable per-field by environment then by explicit
// Config values. Precedence: explicit value > env var > default.
const (
	defaultWaitTime       = int32(20)
	defaultBatchSize      = int32(10)
	defaultVisibilitySecs = int32(60)
	defaultMaxExtendSecs  = int32(900)
	defaultWorkerCount    = 4
	defaultIdleSleepMax   = 2 * time.Second
)

// Config tunes one listener engine. An unset field (zero value, or nil for
// the pointer fields) is filled by resolve() from the corresponding
// environment variable (WAIT_TIME, BATCH_SIZE, VISIBILITY_SECS, MAX_EXTEND,
// WORKER_THREADS, IDLE_SLEEP_MAX, QUEUE_URL) or the built-in default.
type Config struct {
	QueueURL string
	Mode     string

	// WaitTime is the long-poll bound in seconds for each receive call.
	// Pointer because zero is a valid setting (short poll): use aws.Int32(0)
	// to request it explicitly, nil to defer to env/default.
	WaitTime *int32
	// BatchSize is the max messages per receive call (SQS caps this at 10).
	BatchSize int32
	// VisibilitySecs is the visibility timeout requested at receive time and
	// granted again by each heartbeat extension.
	VisibilitySecs int32
	// MaxExtendSecs caps the cumulative extension a single lease may grant,
	// bounding how long a stuck handler can hold a message. Pointer because
	// an explicit zero (no extension at all) is valid.
	MaxExtendSecs *int32
	// WorkerCount is the number of independent poller goroutines.
	WorkerCount int
	// IdleSleepMax bounds the random backoff after an empty receive.
	IdleSleepMax time.Duration

	// StatsInterval enables the queue stats monitor when > 0.
	StatsInterval time.Duration
}

func (c Config) resolve() Config {
	if c.QueueURL == "" {
		c.QueueURL = os.Getenv("QUEUE_URL")
	}
	if c.Mode == "" {
		c.Mode = ModeBatch
	}
	if c.WaitTime == nil {
		c.WaitTime = aws.Int32(envInt32("WAIT_TIME", defaultWaitTime))
	}
	if c.BatchSize == 0 {
		c.BatchSize = envInt32("BATCH_SIZE", defaultBatchSize)
	}
	if c.VisibilitySecs == 0 {
		c.VisibilitySecs = envInt32("VISIBILITY_SECS", defaultVisibilitySecs)
	}
	if c.MaxExtendSecs == nil {
		c.MaxExtendSecs = aws.Int32(envInt32("MAX_EXTEND", defaultMaxExtendSecs))
	}
	if c.WorkerCount == 0 {
		c.WorkerCount = int(envInt32("WORKER_THREADS", int32(defaultWorkerCount)))
	}
	if c.IdleSleepMax == 0 {
		c.IdleSleepMax = envSeconds("IDLE_SLEEP_MAX", defaultIdleSleepMax)
	}
	return c
}

func (c Config) validate() error {
	if c.QueueURL == "" {
		return fmt.Errorf("queue URL is required (set QueueURL or QUEUE_URL)")
	}
	if c.Mode != ModeBatch && c.Mode != ModePerMessage {
		return fmt.Errorf("invalid mode %q (want %q or %q)", c.Mode, ModeBatch, ModePerMessage)
	}
	if c.BatchSize < 1 || c.BatchSize > 10 {
		return fmt.Errorf("batch size %d out of range [1,10]", c.BatchSize)
	}
	if wt := aws.ToInt32(c.WaitTime); wt < 0 || wt > 20 {
		return fmt.Errorf("wait time %d out of range [0,20]", wt)
	}
	if c.VisibilitySecs < 1 {
		return fmt.Errorf("visibility timeout %d must be positive", c.VisibilitySecs)
	}
	if aws.ToInt32(c.MaxExtendSecs) < 0 {
		return fmt.Errorf("max extend %d must not be negative", aws.ToInt32(c.MaxExtendSecs))
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("worker count %d must be positive", c.WorkerCount)
	}
	if c.IdleSleepMax <= 0 {
		return fmt.Errorf("idle sleep max %v must be positive", c.IdleSleepMax)
	}
	return nil
}

// heartbeatInterval is the lease refresh period: half the visibility window,
// never below one second.
func (c Config) heartbeatInterval() time.Duration {
	half := c.VisibilitySecs / 2
	if half < 1 {
		half = 1
	}
	return time.Duration(half) * time.Second
}

func envInt32(key string, def int32) int32 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return int32(n)
		}
	}
	return def
}

func envSeconds(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	}
	return def
}
