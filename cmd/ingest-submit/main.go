package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/showgrid/catalog-ingest/pkg/config"
	"github.com/showgrid/catalog-ingest/pkg/ingest"
	"github.com/showgrid/catalog-ingest/pkg/progress"
	"github.com/showgrid/catalog-ingest/pkg/queue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "ingest-submit",
		Usage: "submit a catalog file for ingestion and optionally watch its progress",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Usage:    "path to the CSV or XLSX file to ingest",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "poll progress until the job completes or fails",
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "how often to poll progress with --wait",
				Value: time.Second,
			},
		},
		Action: submitAction,
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func submitAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("file")

	payload, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg := config.Load()

	producer, err := queue.NewProducer(cfg.RabbitURL, cfg.QueueName)
	if err != nil {
		return fmt.Errorf("failed to connect to queue: %w", err)
	}
	defer producer.Close()

	tracker, err := progress.NewTracker(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer tracker.Close()

	jobID, err := ingest.NewProducer(producer, tracker).Submit(ctx, filepath.Base(path), payload)
	if err != nil {
		return err
	}

	fmt.Println(jobID)

	if !cmd.Bool("wait") {
		return nil
	}

	return watchProgress(ctx, tracker, jobID, cmd.Duration("poll-interval"))
}

func watchProgress(ctx context.Context, tracker *progress.Tracker, jobID string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		status, err := tracker.Get(ctx, jobID)
		if err != nil {
			return err
		}

		switch status.State {
		case progress.StateComplete:
			fmt.Println("complete")
			return nil
		case progress.StateFailed:
			return fmt.Errorf("processing failed")
		case progress.StateRunning:
			fmt.Printf("%d%%\n", status.Percent)
		}
	}
}
