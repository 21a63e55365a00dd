package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/tailorcv/vector-service/internal/config"
)

// Consumer pulls cv.created events from JetStream one at a time and maps the
// processor's outcome onto queue acknowledgements: Ack on success, Nak for
// redelivery, Term for poison.
type Consumer struct {
	cfg    config.QueueConfig
	proc   *Processor
	logger *zap.Logger

	nc  *nats.Conn
	sub *nats.Subscription
}

func NewConsumer(cfg config.QueueConfig, proc *Processor, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{cfg: cfg, proc: proc, logger: logger}
}

// Connect dials NATS, ensures the stream exists, and binds the durable pull
// subscription. The connection retries forever with the configured wait so a
// broker restart never kills the service.
func (c *Consumer) Connect() error {
	nc, err := nats.Connect(c.cfg.URL,
		nats.ReconnectWait(c.cfg.ReconnectWait),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("Queue connection lost, reconnecting",
				zap.String("url", c.cfg.URL),
				zap.String("stream", c.cfg.Stream),
				zap.Duration("reconnect_wait", c.cfg.ReconnectWait),
				zap.Error(err),
			)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("Queue connection restored",
				zap.String("url", nc.ConnectedUrl()),
				zap.String("stream", c.cfg.Stream),
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to queue at %s: %w", c.cfg.URL, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return fmt.Errorf("open jetstream context: %w", err)
	}

	if _, err := js.StreamInfo(c.cfg.Stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			nc.Close()
			return fmt.Errorf("inspect stream %s: %w", c.cfg.Stream, err)
		}
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:      c.cfg.Stream,
			Subjects:  []string{c.cfg.Subject},
			Retention: nats.WorkQueuePolicy,
		}); err != nil {
			nc.Close()
			return fmt.Errorf("create stream %s: %w", c.cfg.Stream, err)
		}
		c.logger.Info("Created event stream",
			zap.String("stream", c.cfg.Stream),
			zap.String("subject", c.cfg.Subject),
		)
	}

	// Durable pull consumer; explicit acks, redeliveries decided per event.
	sub, err := js.PullSubscribe(c.cfg.Subject, c.cfg.Durable, nats.AckExplicit())
	if err != nil {
		nc.Close()
		return fmt.Errorf("subscribe %s (durable %s): %w", c.cfg.Subject, c.cfg.Durable, err)
	}

	c.nc = nc
	c.sub = sub
	c.logger.Info("Queue consumer ready",
		zap.String("url", c.cfg.URL),
		zap.String("stream", c.cfg.Stream),
		zap.String("durable", c.cfg.Durable),
	)
	return nil
}

// Run fetches and processes events until the context is cancelled. One
// message in flight at a time: indexing is embedding-bound and the backend
// behaves badly under concurrent batches.
func (c *Consumer) Run(ctx context.Context) error {
	if c.sub == nil {
		return errors.New("consumer not connected")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msgs, err := c.sub.Fetch(1, nats.MaxWait(c.cfg.FetchTimeout))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			c.logger.Warn("Fetch from queue failed", zap.Error(err))
			continue
		}
		for _, msg := range msgs {
			c.dispatch(ctx, msg)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg *nats.Msg) {
	switch c.proc.Handle(ctx, msg.Data) {
	case OutcomeAck:
		if err := msg.Ack(); err != nil {
			c.logger.Warn("Ack failed", zap.Error(err))
		}
	case OutcomeRequeue:
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Nak failed", zap.Error(err))
		}
	case OutcomeDrop:
		if err := msg.Term(); err != nil {
			c.logger.Warn("Term failed", zap.Error(err))
		}
	}
}

// Healthy reports whether the NATS connection is up.
func (c *Consumer) Healthy(_ context.Context) error {
	if c.nc == nil || !c.nc.IsConnected() {
		return errors.New("queue connection down")
	}
	return nil
}

// Close drains the subscription and connection.
func (c *Consumer) Close() {
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
	}
	if c.nc != nil {
		c.nc.Close()
	}
}
