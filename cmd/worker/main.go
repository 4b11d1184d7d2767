// The worker consumes normalized events from SQS and applies them to
// the engagement, suppression and campaign stores. It runs as a
// separate deployment so ingestion stays responsive while processing
// scales independently.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/propel-crm/email-events/internal/config"
	"github.com/propel-crm/email-events/internal/queue"
	"github.com/propel-crm/email-events/internal/repository/postgres"
	"github.com/propel-crm/email-events/internal/service/campaign"
	"github.com/propel-crm/email-events/internal/service/engagement"
	"github.com/propel-crm/email-events/internal/service/suppression"
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
	if cfg.Queue.SQSQueueURL == "" {
		log.Fatal("the worker requires an SQS queue; set SQS_EVENTS_QUEUE_URL")
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("aws config: %v", err)
	}
	q := queue.NewSQS(awssqs.NewFromConfig(awsCfg), cfg.Queue.SQSQueueURL, cfg.Queue.SQSWaitSeconds)

	proc := worker.NewProcessor(q, q,
		engagement.NewService(postgres.NewEngagementRepo(db)),
		suppression.NewService(postgres.NewSuppressionRepo(db)),
		campaign.NewService(postgres.NewCampaignRepo(db)),
		postgres.NewDeadLetterRepo(db),
		worker.Options{
			Workers:     cfg.Queue.Workers,
			MaxAttempts: cfg.Queue.MaxAttempts,
			BackoffBase: cfg.Queue.BackoffBase(),
			BackoffMax:  cfg.Queue.BackoffMax(),
		})
	proc.Start(ctx)
	log.Printf("processing events with %d workers", cfg.Queue.Workers)

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				processed, failed, dead := proc.Stats()
				log.Printf("stats: processed=%d failed=%d dead_lettered=%d", processed, failed, dead)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	cancel()
	proc.Stop()
	log.Println("shutdown complete")
}
