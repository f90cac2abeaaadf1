package ingest

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/showgrid/catalog-ingest/pkg/types"
)

var (
	ErrEmptyPayload    = errors.New("uploaded file is empty")
	ErrUnsupportedFile = errors.New("only CSV and XLSX files are allowed")
)

var allowedExtensions = map[string]bool{
	"csv":  true,
	"xlsx": true,
}

// AllowedFile reports whether the filename carries an accepted extension.
func AllowedFile(filename string) bool {
	dot := strings.LastIndex(filename, ".")
	if dot < 0 {
		return false
	}
	return allowedExtensions[strings.ToLower(filename[dot+1:])]
}

// Publisher accepts a job envelope for delivery to a worker.
type Publisher interface {
	Publish(ctx context.Context, msg types.JobMessage) error
}

// ProgressTracker records job progress. Implemented by progress.Tracker.
type ProgressTracker interface {
	SetPercent(ctx context.Context, jobID string, percent int) error
	SetFailed(ctx context.Context, jobID string) error
}

// Producer turns an uploaded file into a queued ingestion job. It runs in
// the request path and blocks only on the queue publish.
type Producer struct {
	publisher Publisher
	progress  ProgressTracker
}

func NewProducer(publisher Publisher, progress ProgressTracker) *Producer {
	return &Producer{publisher: publisher, progress: progress}
}

// Submit validates the upload, mints a job identifier, publishes the
// envelope and returns the identifier for the client to poll. The progress
// entry is initialized to 0 only after the broker accepts the message, so a
// failed publish never leaves a stuck "in flight" entry behind.
func (p *Producer) Submit(ctx context.Context, filename string, payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", ErrEmptyPayload
	}
	if !AllowedFile(filename) {
		return "", ErrUnsupportedFile
	}

	jobID := uuid.New().String()
	msg := types.NewJobMessage(jobID, payload)

	if err := p.publisher.Publish(ctx, msg); err != nil {
		return "", err
	}

	if err := p.progress.SetPercent(ctx, jobID, 0); err != nil {
		// The job is already queued; the worker will write progress soon.
		log.WithError(err).WithField("job_id", jobID).Warn("failed to initialize progress entry")
	}

	log.WithFields(log.Fields{
		"job_id":   jobID,
		"filename": filename,
		"bytes":    len(payload),
	}).Info("file queued for processing")

	return jobID, nil
}
