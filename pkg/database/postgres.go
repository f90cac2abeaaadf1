package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/showgrid/catalog-ingest/pkg/types"
)

type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	MaxPool  int
}

// Store persists ingested catalog records. Inserts are idempotent per
// (ingest_job_id, row_seq), so a redelivered queue message cannot
// double-insert rows.
type Store struct {
	*sql.DB
	batchSize int
}

// NewStore creates a PostgreSQL connection pool and ensures the catalog
// schema exists. batchSize controls how many rows a writer accumulates
// before flushing; 1 means one insert per row.
func NewStore(cfg Config, batchSize int) (*Store, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxPool)
	db.SetMaxIdleConns(cfg.MaxPool / 2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if batchSize < 1 {
		batchSize = 1
	}

	store := &Store{DB: db, batchSize: batchSize}
	if err := store.ensureSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS catalog_titles (
			ingest_job_id TEXT NOT NULL,
			row_seq       INTEGER NOT NULL,
			show_id       TEXT,
			type          TEXT,
			title         TEXT,
			director      TEXT,
			"cast"        TEXT,
			country       TEXT,
			date_added    TEXT,
			release_year  TEXT,
			rating        TEXT,
			duration      TEXT,
			listed_in     TEXT,
			description   TEXT,
			PRIMARY KEY (ingest_job_id, row_seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_catalog_titles_sort
			ON catalog_titles (date_added, release_year, duration)`,
	}

	for _, stmt := range statements {
		if _, err := s.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}

	return nil
}

// JobWriter returns a writer that persists rows for one job in file order.
func (s *Store) JobWriter(jobID string) *RowWriter {
	return &RowWriter{store: s, jobID: jobID}
}

// RowWriter buffers rows for a single job and flushes them in batches.
// Not safe for concurrent use; each job is written by one goroutine.
type RowWriter struct {
	store *Store
	jobID string
	seq   int
	buf   []types.Record
}

// Write queues one record and flushes when the batch is full.
func (w *RowWriter) Write(ctx context.Context, rec types.Record) error {
	w.buf = append(w.buf, rec)
	if len(w.buf) >= w.store.batchSize {
		return w.Flush(ctx)
	}
	return nil
}

// Flush writes any buffered rows.
func (w *RowWriter) Flush(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}

	query, args := buildInsert(w.jobID, w.seq, w.buf)
	if _, err := w.store.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert rows for job %s: %w", w.jobID, err)
	}

	w.seq += len(w.buf)
	w.buf = w.buf[:0]
	return nil
}

// insertColumns is the column order used by buildInsert.
const insertColumns = `ingest_job_id, row_seq, show_id, type, title, director, "cast", country, date_added, release_year, rating, duration, listed_in, description`

// buildInsert renders a multi-row idempotent insert. startSeq is the
// zero-based sequence number of the first record in the batch.
func buildInsert(jobID string, startSeq int, recs []types.Record) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO catalog_titles (")
	sb.WriteString(insertColumns)
	sb.WriteString(") VALUES ")

	args := make([]interface{}, 0, len(recs)*14)
	for i, rec := range recs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := 0; j < 14; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", len(args)+j+1)
		}
		sb.WriteString(")")

		args = append(args,
			jobID, startSeq+i,
			rec.ShowID, rec.Type, rec.Title, rec.Director,
			rec.Cast, rec.Country, rec.DateAdded, rec.ReleaseYear,
			rec.Rating, rec.Duration, rec.ListedIn, rec.Description,
		)
	}

	sb.WriteString(" ON CONFLICT (ingest_job_id, row_seq) DO NOTHING")
	return sb.String(), args
}

// CountJobRows reports how many rows were persisted for a job.
func (s *Store) CountJobRows(ctx context.Context, jobID string) (int, error) {
	var count int
	err := s.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM catalog_titles WHERE ingest_job_id = $1`, jobID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count rows for job %s: %w", jobID, err)
	}
	return count, nil
}
