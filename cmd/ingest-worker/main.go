package main

import (
	"context"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/showgrid/catalog-ingest/pkg/config"
	"github.com/showgrid/catalog-ingest/pkg/database"
	"github.com/showgrid/catalog-ingest/pkg/ingest"
	"github.com/showgrid/catalog-ingest/pkg/progress"
	"github.com/showgrid/catalog-ingest/pkg/queue"
)

// recordStore adapts database.Store to the worker's RecordStore interface.
type recordStore struct {
	db *database.Store
}

func (r recordStore) JobWriter(jobID string) ingest.RecordWriter {
	return r.db.JobWriter(jobID)
}

func main() {
	log.Info("ingest worker starting")

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewStore(database.Config{
		Host:     cfg.PostgresHost,
		Port:     cfg.PostgresPort,
		User:     cfg.PostgresUser,
		Password: cfg.PostgresPassword,
		DBName:   cfg.PostgresDB,
		MaxPool:  cfg.PostgresMaxPool,
	}, cfg.BatchSize)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize PostgreSQL")
	}
	defer db.Close()
	log.Info("PostgreSQL connected")

	tracker, err := progress.NewTracker(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize Redis")
	}
	defer tracker.Close()
	log.Info("Redis connected")

	consumer, err := queue.NewConsumer(cfg.RabbitURL, cfg.QueueName)
	if err != nil {
		log.WithError(err).Fatal("failed to create consumer")
	}
	defer consumer.Close()

	worker, err := ingest.NewWorker(recordStore{db: db}, tracker, cfg.ScratchDir)
	if err != nil {
		log.WithError(err).Fatal("failed to create worker")
	}

	log.Info("ingest worker ready")
	if err := consumer.Start(ctx, worker.Process); err != nil && ctx.Err() == nil {
		log.WithError(err).Fatal("consumer stopped")
	}
	log.Info("ingest worker shut down")
}
