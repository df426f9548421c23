// Package ingest consumes raw monitoring events from NATS JetStream and
// feeds them to the synthesis engine. Delivery is at-least-once; the
// engine's deduplicator makes the inevitable redeliveries harmless.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/entitysynth/component"
	"github.com/c360/entitysynth/errors"
	"github.com/c360/entitysynth/event"
	"github.com/c360/entitysynth/metric"
	"github.com/c360/entitysynth/pkg/worker"
)

// Submitter is the slice of the engine the consumer needs.
type Submitter interface {
	Submit(ev *event.Event) error
}

// Config locates the event stream.
type Config struct {
	Stream   string `yaml:"stream"`
	Subject  string `yaml:"subject"`
	Consumer string `yaml:"consumer"`

	// AckWait is how long JetStream waits before redelivering an
	// unacknowledged event.
	AckWait time.Duration `yaml:"ack_wait"`
	// MaxDeliver bounds redelivery of an event the engine keeps
	// rejecting.
	MaxDeliver int `yaml:"max_deliver"`
}

// DefaultConfig returns the conventional stream layout.
func DefaultConfig() Config {
	return Config{
		Stream:     "EVENTS",
		Subject:    "events.>",
		Consumer:   "entitysynth",
		AckWait:    30 * time.Second,
		MaxDeliver: 5,
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Stream == "" || c.Subject == "" || c.Consumer == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: stream, subject and consumer are required", errors.ErrMissingConfig),
			"ingest", "config", "validate")
	}
	return nil
}

// Consumer pulls events off JetStream and submits them to the engine.
type Consumer struct {
	config    Config
	js        jetstream.JetStream
	submitter Submitter
	logger    *slog.Logger
	metrics   *consumerMetrics

	mu        sync.Mutex
	state     component.State
	startedAt time.Time
	lastErr   error
	errCount  int
	cancel    context.CancelFunc
	consume   jetstream.ConsumeContext
}

// New builds a consumer. registry may be nil to disable metrics.
func New(cfg Config, js jetstream.JetStream, submitter Submitter, registry *metric.Registry) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	metrics, err := newConsumerMetrics(registry)
	if err != nil {
		return nil, err
	}
	return &Consumer{
		config:    cfg,
		js:        js,
		submitter: submitter,
		logger:    slog.Default().With("component", "ingest"),
		metrics:   metrics,
		state:     component.StateCreated,
	}, nil
}

// Meta implements component.Lifecycle.
func (c *Consumer) Meta() component.Metadata {
	return component.Metadata{
		Name:        "ingest",
		Type:        "input",
		Description: "JetStream event consumer feeding the synthesis engine",
		Version:     "1.0.0",
	}
}

// Health implements component.Lifecycle.
func (c *Consumer) Health() component.HealthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := component.HealthStatus{
		Healthy:    c.state == component.StateStarted,
		LastCheck:  time.Now(),
		ErrorCount: c.errCount,
	}
	if c.lastErr != nil {
		h.LastError = c.lastErr.Error()
	}
	if !c.startedAt.IsZero() {
		h.Uptime = time.Since(c.startedAt)
	}
	return h
}

// Initialize implements component.Lifecycle. Stream and consumer creation
// happen in Start, where a context is available.
func (c *Consumer) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.js == nil || c.submitter == nil {
		c.state = component.StateFailed
		return errors.WrapInvalid(
			fmt.Errorf("%w: jetstream connection and submitter are required", errors.ErrMissingConfig),
			"ingest", "initialize", "check dependencies")
	}
	c.state = component.StateInitialized
	return nil
}

// Start ensures the stream and durable consumer exist and begins
// consuming.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == component.StateStarted {
		return errors.ErrAlreadyStarted
	}
	if c.state != component.StateInitialized {
		return errors.ErrNotStarted
	}

	runCtx, cancel := context.WithCancel(ctx)

	stream, err := c.js.CreateOrUpdateStream(runCtx, jetstream.StreamConfig{
		Name:      c.config.Stream,
		Subjects:  []string{c.config.Subject},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		cancel()
		c.state = component.StateFailed
		return errors.WrapTransient(err, "ingest", "start", "ensure stream")
	}

	consumer, err := stream.CreateOrUpdateConsumer(runCtx, jetstream.ConsumerConfig{
		Durable:       c.config.Consumer,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.config.AckWait,
		MaxDeliver:    c.config.MaxDeliver,
		FilterSubject: c.config.Subject,
	})
	if err != nil {
		cancel()
		c.state = component.StateFailed
		return errors.WrapTransient(err, "ingest", "start", "ensure consumer")
	}

	consume, err := consumer.Consume(c.handle)
	if err != nil {
		cancel()
		c.state = component.StateFailed
		return errors.WrapTransient(err, "ingest", "start", "begin consuming")
	}

	c.cancel = cancel
	c.consume = consume
	c.state = component.StateStarted
	c.startedAt = time.Now()
	c.logger.Info("ingest started",
		"stream", c.config.Stream,
		"subject", c.config.Subject,
		"consumer", c.config.Consumer)
	return nil
}

// handle processes one delivery. Malformed events are terminated so they
// never redeliver; backpressure leaves the event unacked for retry.
func (c *Consumer) handle(msg jetstream.Msg) {
	c.metrics.received()

	ev, err := event.Parse(msg.Data())
	if err != nil {
		c.metrics.rejected("malformed")
		c.logger.Warn("malformed event terminated", "subject", msg.Subject(), "error", err)
		_ = msg.Term()
		return
	}

	if err := c.submitter.Submit(ev); err != nil {
		switch {
		case errors.Is(err, worker.ErrQueueFull):
			// Leave unacked; JetStream redelivers after AckWait.
			c.metrics.rejected("backpressure")
			_ = msg.Nak()
		case errors.IsInvalid(err):
			c.metrics.rejected("invalid")
			c.logger.Warn("invalid event terminated", "subject", msg.Subject(), "error", err)
			_ = msg.Term()
		default:
			c.metrics.rejected("error")
			c.recordError(err)
			_ = msg.Nak()
		}
		return
	}

	c.metrics.accepted()
	_ = msg.Ack()
}

// Stop halts consumption.
func (c *Consumer) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if c.state != component.StateStarted {
		c.mu.Unlock()
		return errors.ErrNotStarted
	}
	c.state = component.StateStopped
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.consume.Drain()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		c.consume.Stop()
	}

	if c.cancel != nil {
		c.cancel()
	}
	c.logger.Info("ingest stopped")
	return nil
}

func (c *Consumer) recordError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
	c.errCount++
}
