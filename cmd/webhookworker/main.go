// Command webhookworker consumes the webhook-delivery stream and posts
// signed payment events to the configured sink, retrying failures on a
// schedule until the delivery is exhausted.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/plm/crossbridge/engine/worker"
	"github.com/plm/crossbridge/logging"
	natsclient "github.com/plm/crossbridge/messaging/nats"
	"github.com/plm/crossbridge/storage/postgres"
	redisstore "github.com/plm/crossbridge/storage/redis"
	"github.com/plm/crossbridge/worker/webhook"
)

const (
	poolSize      = 10
	retryInterval = 15 * time.Second
)

func main() {
	_ = godotenv.Load()
	log := logging.New("webhook-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgClient, err := postgres.NewClient(ctx, postgres.DefaultConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pgClient.Close()
	store := postgres.NewStore(pgClient)

	redisClient, err := redisstore.NewClient(ctx, redisstore.DefaultConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()

	natsClient, err := natsclient.NewClient(ctx, natsclient.DefaultConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to nats")
	}
	defer natsClient.Close()
	if err := natsClient.SetupStreams(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to set up streams")
	}

	dlvr := webhook.New(store, log)
	pool := worker.NewPool(&worker.Config{MaxWorkers: poolSize})

	go dlvr.RunRetryScheduler(ctx, natsClient, retryInterval)

	consumer, err := natsClient.CreateWorkQueueConsumer(ctx, natsclient.DefaultConsumerConfig(
		natsclient.WebhookDeliveryStream, "webhook-worker",
	))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create consumer")
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		var job natsclient.WebhookJob
		if err := json.Unmarshal(msg.Data(), &job); err != nil {
			log.Error().Err(err).Msg("malformed webhook job, terminating")
			msg.Term()
			return
		}

		err := pool.Submit(ctx, job.DeliveryID, func(ctx context.Context, deliveryID string) error {
			return dlvr.DeliverOne(ctx, deliveryID)
		}, func(err error) {
			if err != nil {
				log.Error().Err(err).Str("delivery_id", job.DeliveryID).Msg("webhook delivery failed")
				msg.Nak()
				return
			}
			msg.Ack()
		})
		if err != nil {
			log.Error().Err(err).Str("delivery_id", job.DeliveryID).Msg("failed to submit job to pool")
			msg.Nak()
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start consuming")
	}
	defer consumeCtx.Stop()

	log.Info().Int("pool_size", poolSize).Msg("webhook worker started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	pool.Stop()
}
