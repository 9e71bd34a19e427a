/**
 * @description
 * This is the main entry point for the finance-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * message brokers, repositories, the core application engines, and the HTTP server.
 * It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/providerclient: Client for the payment provider's disbursement API.
 * - pkg/rabbitmq: Client for RabbitMQ.
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

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/tunewave/finance-service/internal/api"
	"github.com/tunewave/finance-service/internal/app"
	"github.com/tunewave/finance-service/internal/config"
	"github.com/tunewave/finance-service/internal/domain"
	"github.com/tunewave/finance-service/internal/store"
	"github.com/tunewave/finance-service/pkg/providerclient"
	rmrabbit "github.com/tunewave/finance-service/pkg/rabbitmq"
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

	log.Printf("level=info component=bootstrap msg=\"starting finance-service\" port=%s currency=%s", cfg.ServerPort, cfg.DomesticCurrency)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Configure connection pool for high-traffic scenarios
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish events.
	var producer rmrabbit.Publisher
	eventProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the client for the payment provider's disbursement API.
	// It is carried by the processing flow; missing config degrades to manual
	// disbursement handling rather than blocking startup.
	var providerClient *providerclient.Client
	if strings.TrimSpace(cfg.ProviderAPIBaseURL) == "" || strings.TrimSpace(cfg.ProviderAPIKey) == "" {
		log.Printf("level=warn component=bootstrap msg=\"provider client not configured; automatic disbursement disabled\" base_url_set=%t api_key_set=%t",
			strings.TrimSpace(cfg.ProviderAPIBaseURL) != "",
			strings.TrimSpace(cfg.ProviderAPIKey) != "",
		)
	} else {
		providerClient = providerclient.NewClient(cfg.ProviderAPIBaseURL, cfg.ProviderAPIKey)
	}

	// Redis backs the payout-request rate limiter. A missing or unreachable
	// Redis disables limiting rather than blocking payouts.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; payout rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; payout rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; payout rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application engines with their dependencies.
	auditSink := app.NewStoreAuditSink(repository, producer)
	feeCalculator := app.NewFeeCalculator(nil, cfg.PlatformDefaultShareRate, cfg.ServiceFeeRate)
	detector := app.NewAnomalyDetector(repository)
	balanceSource := app.NewRepositoryBalanceSource(repository)

	lifecycle := app.NewPaymentLifecycle(repository, auditSink, producer, cfg.DomesticCurrency, cfg.SupportedCurrencyList())
	ledger := app.NewRevenueLedger(repository, auditSink, detector, cfg.DomesticCurrency)
	governor := app.NewPayoutGovernor(repository, auditSink, feeCalculator, detector, balanceSource, producer, cfg.DomesticCurrency, cfg.LargePayoutThreshold)

	// A completed payment whose metadata names an artist is recognized as
	// revenue via the royalty split. The hook runs post-commit and is
	// idempotent per payment reference.
	lifecycle.RegisterCompletionHook("revenue_recognition", func(ctx context.Context, payment *domain.Payment) error {
		artistIDRaw, ok := payment.Metadata["artist_id"].(string)
		if !ok {
			return nil
		}
		artistID, err := uuid.Parse(artistIDRaw)
		if err != nil {
			return fmt.Errorf("invalid artist_id in payment metadata: %w", err)
		}
		platform, _ := payment.Metadata["platform"].(string)
		breakdown := feeCalculator.RoyaltySplit(platform, payment.Amount)

		sourceType := "payment"
		if payment.PayableType != nil {
			sourceType = *payment.PayableType
		}
		sourceID := payment.ID
		if payment.PayableID != nil {
			sourceID = *payment.PayableID
		}

		rev, err := ledger.Record(ctx, domain.SystemActor("revenue-recognition"), app.RecordRevenueInput{
			ArtistID:        artistID,
			RevenueType:     "sale",
			SourceType:      sourceType,
			SourceID:        sourceID,
			GrossAmount:     payment.Amount,
			PlatformFee:     breakdown.PlatformFee,
			DistributionFee: breakdown.ServiceFee,
			Currency:        payment.Currency,
			SharePercent:    (1 - breakdown.PlatformRate) * 100,
			AccruedAt:       time.Now().UTC(),
		})
		if err != nil {
			return err
		}

		if err := rmrabbit.PublishRevenueRecognized(ctx, producer, rmrabbit.RevenueRecognizedEvent{
			PaymentID: payment.ID,
			ArtistID:  artistID,
			NetAmount: rev.NetAmount,
			Currency:  rev.Currency,
			Timestamp: time.Now().UTC(),
		}); err != nil {
			log.Printf("WARN: revenue recognized event publish failed: payment=%s err=%v", payment.Reference, err)
		}
		return nil
	})

	// Notify downstream services (statements, artist notifications) about the
	// completed payment.
	lifecycle.RegisterCompletionHook("payment_notification", func(ctx context.Context, payment *domain.Payment) error {
		return producer.Publish(ctx, rmrabbit.EventsExchange, "payment.completed", payment)
	})

	var disbursementClient app.DisbursementClient
	if providerClient != nil {
		disbursementClient = providerClient
	} else {
		log.Println("level=info component=bootstrap msg=\"payout disbursement will be driven by provider events only\"")
	}
	disburser := app.NewDisbursementSubmitter(disbursementClient, governor, repository)

	rateLimiter := app.NewRedisPayoutRateLimiter(redisClient, cfg.RedisRateLimitPrefix)

	// Initialize the API handlers.
	financeHandlers := api.NewFinanceHandlers(lifecycle, ledger, governor, disburser, repository, rateLimiter, cfg.PayoutRequestLimitPerHour, cfg.AuditTrailPageSize)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/finance", api.FinanceRoutes(financeHandlers, cfg.ClerkJWKSURL, cfg.InternalAPIKey))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	// Wire up the provider status consumer: bind payment and payout status
	// events from the provider integration, and ensure graceful shutdown.
	statusConsumer := app.NewProviderStatusConsumer(repository, lifecycle, governor)

	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	providerBindings := map[string]func([]byte) bool{
		"provider.payment.*": statusConsumer.HandlePaymentMessage,
		"provider.payout.*":  statusConsumer.HandlePayoutMessage,
	}

	if err := rabbitConsumer.ConsumeWithBindings(rmrabbit.EventsExchange, cfg.ProviderEventQueue, cfg.ConsumerPrefetch, providerBindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"provider consumer start failed\" err=%v", err)
	}

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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
