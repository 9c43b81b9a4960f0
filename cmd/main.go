/**
 * @description
 * This is the main entry point for the generation-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, external API clients, message brokers, repositories, the core
 * application service, and the HTTP server. It wires everything together and
 * starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Rate-limiter backend.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/providerclient, pkg/storageclient, pkg/rabbitmq: External collaborators.
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
	"github.com/redis/go-redis/v9"

	"github.com/adforge/generation-service/internal/api"
	"github.com/adforge/generation-service/internal/app"
	"github.com/adforge/generation-service/internal/config"
	"github.com/adforge/generation-service/internal/store"
	"github.com/adforge/generation-service/pkg/providerclient"
	"github.com/adforge/generation-service/pkg/rabbitmq"
	"github.com/adforge/generation-service/pkg/storageclient"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting generation-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 10
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind pgbouncer.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish generation outcome events.
	var producer rabbitmq.Publisher
	eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the clients for the generation provider and the asset store.
	providerClient := providerclient.NewClient(cfg.ProviderAPIBaseURL, cfg.ProviderAPIKey,
		time.Duration(cfg.ProviderTimeoutSeconds)*time.Second)
	storageClient := storageclient.NewClient(cfg.StorageServiceURL, cfg.StorageServiceAPIKey)

	var redisClient *redis.Client
	if cfg.GenerationRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer and the credit ledger.
	repository := store.NewPostgresRepository(dbpool)
	ledger := app.NewLedger(repository)

	// Initialize the core application service with its dependencies.
	generationService := app.NewService(
		repository,
		ledger,
		providerClient,
		storageClient,
		producer,
		app.Costs{
			Image: cfg.ImageCreditCost,
			Video: cfg.VideoCreditCost,
			Copy:  cfg.CopyCreditCost,
		},
		app.DefaultRetryTuning(),
	)
	generationService.ConfigureSignupBonus(cfg.SignupBonusCredits)
	if redisClient != nil {
		generationService.SetRateLimiter(
			app.NewRedisGenerationRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.GenerationRateLimitPerMinute,
		)
	}

	// Start the refund-outbox drainer so queued refunds land without manual help.
	drainerCtx, stopDrainer := context.WithCancel(context.Background())
	defer stopDrainer()
	drainer := app.NewRefundOutboxDrainer(repository, time.Duration(cfg.RefundOutboxIntervalSeconds)*time.Second)
	go drainer.Run(drainerCtx)

	// Wire up the purchase consumer: completed purchases from the payment
	// processor become PURCHASE transactions in the ledger.
	purchaseConsumer := app.NewPurchaseConsumer(ledger)
	rabbitConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; purchase ingestion disabled\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()
		purchaseBindings := map[string]func([]byte) bool{
			"payment.purchase.completed": purchaseConsumer.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings("adforge.events", cfg.PurchaseEventQueue, purchaseBindings); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"purchase consumer start failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"purchase consumer started\"")
	}

	// Initialize the API handlers and router.
	handlers := api.NewGenerationHandlers(generationService)
	router := api.Routes(handlers, cfg.AuthJWKSURL, cfg.InternalAPIKey)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	stopDrainer()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
