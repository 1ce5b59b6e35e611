/**
 * @description
 * This is the main entry point for the gateway API server. It is responsible
 * for initializing all components of the service: configuration, the database
 * connection pool, the Redis-backed job queue, the repository, the core
 * application service, and the HTTP server. It wires everything together and
 * starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/redis/go-redis/v9: Redis client backing the job queue.
 * - internal/api, internal/app, internal/config, internal/queue, internal/store.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/api"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/app"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/config"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/queue"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/store"
)

func main() {
	// Load .env if present; real environments configure via actual env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	log.Printf("level=info component=bootstrap msg=\"starting gateway api\" port=%s test_mode=%t", cfg.ServerPort, cfg.TestMode)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	jobQueue := buildQueue(cfg)
	defer jobQueue.Close()

	repository := store.NewPostgresRepository(dbpool)
	service := app.NewService(repository, jobQueue, cfg.IdempotencyTTL())
	handlers := api.NewGatewayHandlers(service)
	router := api.GatewayRoutes(handlers, repository)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	log.Println("level=info component=http msg=\"shutdown complete\"")
}

// buildQueue connects the Redis-backed queue, falling back to the in-memory
// backend when Redis is not configured or unreachable. The fallback keeps
// local development working but loses jobs on restart.
func buildQueue(cfg config.Config) queue.Queue {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; using in-memory queue\" env=REDIS_URL")
		return queue.NewMemoryQueue()
	}

	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; using in-memory queue\" err=%v", err)
		return queue.NewMemoryQueue()
	}
	redisClient := redis.NewClient(redisOptions)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; using in-memory queue\" err=%v", err)
		redisClient.Close()
		return queue.NewMemoryQueue()
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return queue.NewRedisQueue(redisClient, cfg.QueuePrefix)
}
