package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/showgrid/catalog-ingest/pkg/types"
)

// progressInterval is how many rows are processed between progress writes.
// Persisting every row round-trips to the database already; reporting every
// row would double the Redis traffic for no client-visible benefit.
const progressInterval = 10

// RecordWriter persists parsed rows for one job in file order.
type RecordWriter interface {
	Write(ctx context.Context, rec types.Record) error
	Flush(ctx context.Context) error
}

// RecordStore hands out per-job writers. Implemented by database.Store
// via a thin adapter in the worker binary.
type RecordStore interface {
	JobWriter(jobID string) RecordWriter
}

// Worker consumes job envelopes and streams their rows into the record
// store, reporting progress as it goes. One envelope is processed at a time.
type Worker struct {
	store      RecordStore
	progress   ProgressTracker
	scratchDir string
}

// NewWorker creates a worker that stages payloads under scratchDir. The
// directory is created if missing.
func NewWorker(store RecordStore, progress ProgressTracker, scratchDir string) (*Worker, error) {
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	return &Worker{store: store, progress: progress, scratchDir: scratchDir}, nil
}

// Process handles one job envelope end to end. Any failure is terminal for
// the job: the progress entry is set to the failure sentinel, remaining rows
// are skipped, and the scratch file is kept for operator inspection.
func (w *Worker) Process(ctx context.Context, msg types.JobMessage) error {
	logger := log.WithField("job_id", msg.JobID)
	logger.Info("processing job")

	payload, err := msg.Payload()
	if err != nil {
		return w.fail(ctx, msg.JobID, 0, fmt.Errorf("failed to decode payload: %w", err))
	}

	path := w.scratchPath(msg.JobID)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return w.fail(ctx, msg.JobID, 0, fmt.Errorf("failed to stage file: %w", err))
	}

	total, err := countDataRows(path)
	if err != nil {
		return w.fail(ctx, msg.JobID, 0, err)
	}

	if total == 0 {
		// Header-only file: nothing to ingest, the job is complete.
		if err := w.progress.SetPercent(ctx, msg.JobID, 100); err != nil {
			return w.fail(ctx, msg.JobID, 0, err)
		}
		w.removeScratch(path, logger)
		logger.Info("job complete, no data rows")
		return nil
	}

	rowsDone, err := w.streamRows(ctx, msg.JobID, path, total)
	if err != nil {
		return w.fail(ctx, msg.JobID, rowsDone, err)
	}

	if err := w.progress.SetPercent(ctx, msg.JobID, 100); err != nil {
		return w.fail(ctx, msg.JobID, rowsDone, err)
	}

	w.removeScratch(path, logger)
	logger.WithField("rows", rowsDone).Info("job complete")
	return nil
}

// streamRows reads the staged file a row at a time, skips the header and
// writes each data row to the record store. Returns the number of rows
// fully processed.
func (w *Worker) streamRows(ctx context.Context, jobID, path string, total int) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open staged file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // rows may be ragged; missing columns map to empty values

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read header: %w", err)
	}
	columns := columnIndex(header)

	writer := w.store.JobWriter(jobID)
	rowsDone := 0

	for {
		if err := ctx.Err(); err != nil {
			return rowsDone, fmt.Errorf("processing cancelled: %w", err)
		}

		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rowsDone, fmt.Errorf("failed to parse row %d: %w", rowsDone+1, err)
		}

		if err := writer.Write(ctx, recordFromRow(columns, row)); err != nil {
			return rowsDone, err
		}
		rowsDone++

		// The 100% write happens only after the final flush below.
		if rowsDone%progressInterval == 0 && rowsDone < total {
			percent := rowsDone * 100 / total
			if err := w.progress.SetPercent(ctx, jobID, percent); err != nil {
				return rowsDone, err
			}
			log.WithFields(log.Fields{"job_id": jobID, "percent": percent}).Info("progress updated")
		}
	}

	if err := writer.Flush(ctx); err != nil {
		return rowsDone, err
	}

	return rowsDone, nil
}

// fail records the failure sentinel and keeps the scratch file on disk so an
// operator can inspect the original payload.
func (w *Worker) fail(ctx context.Context, jobID string, rowsDone int, cause error) error {
	log.WithError(cause).WithFields(log.Fields{
		"job_id": jobID,
		"rows":   rowsDone,
	}).Error("job failed")

	if err := w.progress.SetFailed(ctx, jobID); err != nil {
		log.WithError(err).WithField("job_id", jobID).Error("failed to record failure sentinel")
	}

	return cause
}

func (w *Worker) scratchPath(jobID string) string {
	return filepath.Join(w.scratchDir, jobID+".csv")
}

func (w *Worker) removeScratch(path string, logger *log.Entry) {
	if err := os.Remove(path); err != nil {
		logger.WithError(err).Warn("failed to remove scratch file")
	}
}

// countDataRows scans the staged file once and returns the number of rows
// after the header. The extra pass trades I/O for a stable denominator so
// progress never has to be re-derived mid-stream.
func countDataRows(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open staged file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	if _, err := reader.Read(); err == io.EOF {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("failed to read header: %w", err)
	}

	total := 0
	for {
		if _, err := reader.Read(); err == io.EOF {
			break
		} else if err != nil {
			return 0, fmt.Errorf("failed to count rows: %w", err)
		}
		total++
	}

	return total, nil
}

// columnIndex maps normalized header names to their positions.
func columnIndex(header []string) map[string]int {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return columns
}

// recordFromRow maps a row into a Record by header name. A column missing
// from the file maps to an empty value, not an error.
func recordFromRow(columns map[string]int, row []string) types.Record {
	field := func(name string) string {
		i, ok := columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	return types.Record{
		ShowID:      field("show_id"),
		Type:        field("type"),
		Title:       field("title"),
		Director:    field("director"),
		Cast:        field("cast"),
		Country:     field("country"),
		DateAdded:   field("date_added"),
		ReleaseYear: field("release_year"),
		Rating:      field("rating"),
		Duration:    field("duration"),
		ListedIn:    field("listed_in"),
		Description: field("description"),
	}
}
