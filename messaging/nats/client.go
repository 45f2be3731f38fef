// Package nats provides the NATS JetStream work queue the payment
// orchestrator and webhook delivery workers consume from. Both streams
// use work-queue retention so each message is handed to exactly one
// consumer and removed once acked.
package nats

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Stream and subject names for the two job kinds this service queues.
const (
	PaymentProcessingStream  = "PAYMENT_PROCESSING"
	PaymentProcessingSubject = "payments.process"

	WebhookDeliveryStream  = "WEBHOOK_DELIVERY"
	WebhookDeliverySubject = "webhooks.deliver"
)

// Config holds NATS connection configuration
type Config struct {
	URLs string

	Token    string
	User     string
	Password string

	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
}

// DefaultConfig returns development defaults, reading NATS_URL from the
// environment when set.
func DefaultConfig() *Config {
	urls := os.Getenv("NATS_URL")
	if urls == "" {
		urls = "nats://localhost:4222"
	}
	return &Config{
		URLs:            urls,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ReconnectJitter: 500 * time.Millisecond,
	}
}

// Client wraps a NATS connection with JetStream support
type Client struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	mu  sync.RWMutex
	cfg *Config
}

func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter*2),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				fmt.Printf("NATS disconnected: %v\n", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			fmt.Printf("NATS reconnected to %s\n", nc.ConnectedUrl())
		}),
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	} else if cfg.User != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	nc, err := nats.Connect(cfg.URLs, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &Client{nc: nc, js: js, cfg: cfg}, nil
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc != nil {
		c.nc.Drain()
	}
}

func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

func (c *Client) Connection() *nats.Conn {
	return c.nc
}

// SetupStreams initializes the payment-processing and webhook-delivery
// work-queue streams. Both use WorkQueuePolicy: a message is removed once
// an ack is received, so a durable consumer per worker process
// load-balances the stream across processes automatically.
func (c *Client) SetupStreams(ctx context.Context) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        PaymentProcessingStream,
		Description: "Payment orchestration jobs, one per paymentId",
		Subjects:    []string{PaymentProcessingSubject},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      24 * time.Hour,
		MaxMsgs:     1000000,
		Discard:     jetstream.DiscardOld,
		Replicas:    1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create payment processing stream: %w", err)
	}

	_, err = c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        WebhookDeliveryStream,
		Description: "Webhook delivery jobs, one per delivery row",
		Subjects:    []string{WebhookDeliverySubject},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      24 * time.Hour,
		MaxMsgs:     1000000,
		Discard:     jetstream.DiscardOld,
		Replicas:    1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create webhook delivery stream: %w", err)
	}

	return nil
}

// PaymentJob is the payload published to the payment-processing stream.
type PaymentJob struct {
	PaymentID string `json:"paymentId"`
}

func (c *Client) PublishPaymentJob(ctx context.Context, paymentID string) error {
	data := []byte(fmt.Sprintf(`{"paymentId":%q}`, paymentID))
	_, err := c.js.Publish(ctx, PaymentProcessingSubject, data)
	if err != nil {
		return fmt.Errorf("failed to publish payment job: %w", err)
	}
	return nil
}

// WebhookJob is the payload published to the webhook-delivery stream. The
// delivery row (created once, at enqueue time) already carries the
// payment id, event type, and payload, so the job itself only needs to
// name which row to attempt.
type WebhookJob struct {
	DeliveryID string `json:"deliveryId"`
}

func (c *Client) PublishWebhookJob(ctx context.Context, deliveryID string) error {
	data := []byte(fmt.Sprintf(`{"deliveryId":%q}`, deliveryID))
	_, err := c.js.Publish(ctx, WebhookDeliverySubject, data)
	if err != nil {
		return fmt.Errorf("failed to publish webhook job: %w", err)
	}
	return nil
}

// ConsumerConfig configures a work queue consumer
type ConsumerConfig struct {
	StreamName    string
	ConsumerName  string
	FilterSubject string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
}

// DefaultConsumerConfig returns the 3-attempt retry policy both job kinds
// in this service share.
func DefaultConsumerConfig(stream, name string) *ConsumerConfig {
	return &ConsumerConfig{
		StreamName:    stream,
		ConsumerName:  name,
		MaxDeliver:    3,
		AckWait:       30 * time.Second,
		MaxAckPending: 1000,
	}
}

func (c *Client) CreateWorkQueueConsumer(ctx context.Context, cfg *ConsumerConfig) (jetstream.Consumer, error) {
	consumerCfg := jetstream.ConsumerConfig{
		Durable:       cfg.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    cfg.MaxDeliver,
		AckWait:       cfg.AckWait,
		MaxAckPending: cfg.MaxAckPending,
	}

	if cfg.FilterSubject != "" {
		consumerCfg.FilterSubject = cfg.FilterSubject
	}

	consumer, err := c.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, consumerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	return consumer, nil
}
