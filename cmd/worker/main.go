/**
 * @description
 * This is the main entry point for the settlement worker process. It is a
 * non-HTTP, long-running process that consumes the gateway's three job
 * queues: payment settlement, refund settlement, and webhook delivery. It
 * also runs the cron maintenance jobs (idempotency purge and stranded
 * webhook sweep).
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/redis/go-redis/v9: Redis client backing the job queue.
 * - internal/app, internal/config, internal/queue, internal/store.
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/app"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/config"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/queue"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	log.Printf("level=info component=bootstrap msg=\"starting gateway worker\" test_mode=%t", cfg.TestMode)

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// The worker requires Redis: it must share the queue with the API process.
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"redis url must be configured\" env=REDIS_URL")
	}
	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"redis url parse failed\" err=%v", err)
	}
	redisClient := redis.NewClient(redisOptions)
	defer redisClient.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		log.Fatalf("level=fatal component=bootstrap msg=\"redis ping failed\" err=%v", err)
	}
	cancelPing()
	log.Println("level=info component=bootstrap msg=\"redis connected\"")

	jobQueue := queue.NewRedisQueue(redisClient, cfg.QueuePrefix)
	defer jobQueue.Close()

	repository := store.NewPostgresRepository(dbpool)

	var outcome app.OutcomeProvider = app.RandomOutcomeProvider{}
	if cfg.TestMode {
		outcome = app.ForcedOutcomeProvider{Success: cfg.TestPaymentSuccess}
	}
	retryIntervals := app.RetryIntervals
	if cfg.WebhookRetryTest {
		retryIntervals = app.TestRetryIntervals
	}

	paymentDelayMin, paymentDelayMax := cfg.PaymentDelayBounds()
	refundDelayMin, refundDelayMax := cfg.RefundDelayBounds()

	paymentWorker := app.NewPaymentSettlementWorker(repository, jobQueue, outcome, paymentDelayMin, paymentDelayMax)
	refundWorker := app.NewRefundSettlementWorker(repository, jobQueue, refundDelayMin, refundDelayMax)
	webhookWorker := app.NewWebhookDeliveryWorker(repository, jobQueue, retryIntervals, cfg.WebhookTimeout())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := jobQueue.Consume(ctx, queue.KindSettlePayment, paymentWorker.Handle); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"payment consumer start failed\" err=%v", err)
	}
	if err := jobQueue.Consume(ctx, queue.KindSettleRefund, refundWorker.Handle); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"refund consumer start failed\" err=%v", err)
	}
	if err := jobQueue.Consume(ctx, queue.KindDeliverWebhook, webhookWorker.Handle); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"webhook consumer start failed\" err=%v", err)
	}
	log.Println("level=info component=bootstrap msg=\"consumers started\"")

	maintenance := app.NewMaintenance(repository, jobQueue)
	maintenance.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=worker msg=\"shutdown started\"")

	cancel()
	<-maintenance.Stop().Done()
	log.Println("level=info component=worker msg=\"shutdown complete\"")
}
