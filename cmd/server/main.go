package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"github.com/propel-crm/email-events/internal/api"
	"github.com/propel-crm/email-events/internal/config"
	"github.com/propel-crm/email-events/internal/dedup"
	"github.com/propel-crm/email-events/internal/domain"
	"github.com/propel-crm/email-events/internal/normalize"
	"github.com/propel-crm/email-events/internal/queue"
	"github.com/propel-crm/email-events/internal/repository/postgres"
	"github.com/propel-crm/email-events/internal/service/campaign"
	"github.com/propel-crm/email-events/internal/service/engagement"
	"github.com/propel-crm/email-events/internal/service/suppression"
	"github.com/propel-crm/email-events/internal/tracking"
	"github.com/propel-crm/email-events/internal/webhook"
	"github.com/propel-crm/email-events/internal/worker"

	_ "github.com/lib/pq"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("ping database: %v", err)
	}
	pingCancel()
	log.Println("connected to database")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	pingCtx, pingCancel = context.WithTimeout(context.Background(), 3*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		// The gate fails open, so a dead cache degrades to duplicate
		// deliveries instead of downtime.
		log.Printf("warning: redis unreachable (%s): %v", cfg.Redis.Addr, err)
	}
	pingCancel()

	gate := dedup.NewRedisGate(redisClient, cfg.Dedup.TTL(), nil)

	verifiers, enabled := buildVerifiers(cfg.Providers)
	if len(enabled) == 0 {
		log.Fatal("no webhook providers configured; set at least one *_WEBHOOK_SECRET")
	}
	log.Printf("accepting webhooks for %d provider(s)", len(enabled))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engagementRepo := postgres.NewEngagementRepo(db)
	suppressionRepo := postgres.NewSuppressionRepo(db)
	campaignRepo := postgres.NewCampaignRepo(db)
	deadLetterRepo := postgres.NewDeadLetterRepo(db)

	engagementSvc := engagement.NewService(engagementRepo)
	suppressionSvc := suppression.NewService(suppressionRepo)
	campaignSvc := campaign.NewService(campaignRepo)

	var (
		sink       queue.Sink
		proc       *worker.Processor
		queueDepth func() int
	)
	switch cfg.Queue.Backend {
	case "sqs":
		if cfg.Queue.SQSQueueURL == "" {
			log.Fatal("queue backend is sqs but no queue URL is configured")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			log.Fatalf("aws config: %v", err)
		}
		sink = queue.NewSQS(awssqs.NewFromConfig(awsCfg), cfg.Queue.SQSQueueURL, cfg.Queue.SQSWaitSeconds)
		log.Println("queue backend: sqs (events processed by the worker deployment)")
	default:
		mem := queue.NewMemory(cfg.Queue.Capacity)
		defer mem.Close()
		sink = mem
		queueDepth = mem.Depth

		proc = worker.NewProcessor(mem, mem, engagementSvc, suppressionSvc, campaignSvc, deadLetterRepo, worker.Options{
			Workers:     cfg.Queue.Workers,
			MaxAttempts: cfg.Queue.MaxAttempts,
			BackoffBase: cfg.Queue.BackoffBase(),
			BackoffMax:  cfg.Queue.BackoffMax(),
		})
		proc.Start(ctx)
		log.Printf("queue backend: memory (capacity %d, %d workers)", cfg.Queue.Capacity, cfg.Queue.Workers)
	}

	var trackingHandler *tracking.Handler
	if cfg.Tracking.Enabled {
		if cfg.Tracking.SigningKey == "" {
			log.Fatal("tracking enabled but TRACKING_SIGNING_KEY is not set")
		}
		trackingHandler = tracking.NewHandler(tracking.NewSigner(cfg.Tracking.SigningKey), sink)
		log.Println("first-party tracking endpoints enabled")
	}

	var stats api.ProcessorStats
	if proc != nil {
		stats = proc
	}

	webhooks := api.NewWebhookHandler(verifiers, normalize.Default(), gate, sink, enabled)
	reads := api.NewReadHandlers(engagementSvc, campaignSvc, suppressionSvc, deadLetterRepo, stats, queueDepth)
	server := api.NewServer(webhooks, reads, trackingHandler, nil)

	go func() {
		log.Printf("listening on %s", cfg.Server.Addr())
		if err := server.ListenAndServe(cfg.Server.Addr()); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	cancel()
	if proc != nil {
		proc.Stop()
	}
	log.Println("shutdown complete")
}

// buildVerifiers assembles the signature registry and the enabled
// provider list from per-provider config. A provider with no secret
// stays disabled even if marked enabled.
func buildVerifiers(pc config.ProvidersConfig) (*webhook.Registry, []domain.Provider) {
	var vs []webhook.Verifier
	var enabled []domain.Provider

	if pc.SparkPost.Enabled && pc.SparkPost.WebhookSecret != "" {
		vs = append(vs, webhook.NewSparkPostVerifier(pc.SparkPost.WebhookSecret, pc.SparkPost.Skew()))
		enabled = append(enabled, domain.ProviderSparkPost)
	}
	if pc.Mailgun.Enabled && pc.Mailgun.WebhookSecret != "" {
		vs = append(vs, webhook.NewMailgunVerifier(pc.Mailgun.WebhookSecret, pc.Mailgun.Skew()))
		enabled = append(enabled, domain.ProviderMailgun)
	}
	if pc.SES.Enabled && pc.SES.WebhookSecret != "" {
		vs = append(vs, webhook.NewSESVerifier(pc.SES.WebhookSecret, pc.SES.Skew()))
		enabled = append(enabled, domain.ProviderSES)
	}
	if pc.SendGrid.Enabled && pc.SendGrid.WebhookSecret != "" {
		vs = append(vs, webhook.NewSendGridVerifier(pc.SendGrid.WebhookSecret, pc.SendGrid.Skew()))
		enabled = append(enabled, domain.ProviderSendGrid)
	}

	return webhook.NewRegistry(vs...), enabled
}
