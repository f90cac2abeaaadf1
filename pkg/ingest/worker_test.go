package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/showgrid/catalog-ingest/pkg/types"
)

// memStore keeps written records in memory and can be told to fail when a
// given row number is written.
type memStore struct {
	records   map[string][]types.Record
	failAtRow int // 1-based; 0 means never fail
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string][]types.Record)}
}

func (s *memStore) JobWriter(jobID string) RecordWriter {
	return &memWriter{store: s, jobID: jobID}
}

type memWriter struct {
	store *memStore
	jobID string
}

func (w *memWriter) Write(ctx context.Context, rec types.Record) error {
	if w.store.failAtRow > 0 && len(w.store.records[w.jobID])+1 == w.store.failAtRow {
		return errors.New("simulated store failure")
	}
	w.store.records[w.jobID] = append(w.store.records[w.jobID], rec)
	return nil
}

func (w *memWriter) Flush(ctx context.Context) error { return nil }

// lockedTracker makes a fakeTracker safe for writes from multiple jobs.
type lockedTracker struct {
	mu    sync.Mutex
	inner *fakeTracker
}

func (l *lockedTracker) SetPercent(ctx context.Context, jobID string, percent int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.SetPercent(ctx, jobID, percent)
}

func (l *lockedTracker) SetFailed(ctx context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.SetFailed(ctx, jobID)
}

func newTestWorker(t *testing.T, store RecordStore, tracker ProgressTracker) (*Worker, string) {
	t.Helper()

	scratch := t.TempDir()
	worker, err := NewWorker(store, tracker, scratch)
	require.NoError(t, err)
	return worker, scratch
}

// catalogCSV builds a file with the standard header and n generated rows.
func catalogCSV(n int) []byte {
	var sb strings.Builder
	sb.WriteString("show_id,type,title,director,cast,country,date_added,release_year,rating,duration,listed_in,description\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb, "s%d,Movie,Title %d,Someone,Cast %d,US,2021-01-01,2020,PG,90,Drama,Row %d\n", i, i, i, i)
	}
	return []byte(sb.String())
}

func lastWrite(t *testing.T, tracker *fakeTracker, jobID string) int {
	t.Helper()

	writes := tracker.byJob[jobID]
	require.NotEmpty(t, writes, "expected at least one progress write")
	return writes[len(writes)-1]
}

func TestProcessValidFile(t *testing.T) {
	store := newMemStore()
	tracker := newFakeTracker()
	worker, scratch := newTestWorker(t, store, tracker)

	msg := types.NewJobMessage("job-1", catalogCSV(3))
	require.NoError(t, worker.Process(context.Background(), msg))

	assert.Len(t, store.records["job-1"], 3)
	assert.Equal(t, "Title 1", store.records["job-1"][0].Title)
	assert.Equal(t, "s3", store.records["job-1"][2].ShowID)
	assert.Equal(t, 100, lastWrite(t, tracker, "job-1"))

	_, err := os.Stat(worker.scratchPath("job-1"))
	assert.True(t, os.IsNotExist(err), "scratch file should be removed on success")
	assert.DirExists(t, scratch)
}

func TestProcessSingleRowScenario(t *testing.T) {
	store := newMemStore()
	tracker := newFakeTracker()
	worker, _ := newTestWorker(t, store, tracker)

	csv := "title,release_year,duration\nMovie A,2023,120\n"
	msg := types.NewJobMessage("job-1", []byte(csv))
	require.NoError(t, worker.Process(context.Background(), msg))

	require.Len(t, store.records["job-1"], 1)
	rec := store.records["job-1"][0]
	assert.Equal(t, "Movie A", rec.Title)
	assert.Equal(t, "2023", rec.ReleaseYear)
	assert.Equal(t, "120", rec.Duration)
	assert.Empty(t, rec.ShowID, "columns absent from the file map to empty values")

	assert.Equal(t, []int{100}, tracker.byJob["job-1"])
}

func TestFailureMidFileStopsProcessing(t *testing.T) {
	store := newMemStore()
	store.failAtRow = 3
	tracker := newFakeTracker()
	worker, _ := newTestWorker(t, store, tracker)

	msg := types.NewJobMessage("job-1", catalogCSV(10))
	err := worker.Process(context.Background(), msg)
	require.Error(t, err)

	assert.Len(t, store.records["job-1"], 2, "no rows may be written past the failure point")
	assert.Equal(t, -1, lastWrite(t, tracker, "job-1"))

	_, statErr := os.Stat(worker.scratchPath("job-1"))
	assert.NoError(t, statErr, "scratch file must be retained on failure")
}

func TestProgressUpdateCadence(t *testing.T) {
	cases := []struct {
		rows   int
		writes []int
	}{
		{100, []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}},
		{5, []int{100}},
		{25, []int{40, 80, 100}},
	}

	for _, tc := range cases {
		store := newMemStore()
		tracker := newFakeTracker()
		worker, _ := newTestWorker(t, store, tracker)

		jobID := fmt.Sprintf("job-%d", tc.rows)
		msg := types.NewJobMessage(jobID, catalogCSV(tc.rows))
		require.NoError(t, worker.Process(context.Background(), msg))

		assert.Equal(t, tc.writes, tracker.byJob[jobID], "rows=%d", tc.rows)
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	store := newMemStore()
	tracker := newFakeTracker()
	worker, _ := newTestWorker(t, store, tracker)

	msg := types.NewJobMessage("job-1", catalogCSV(137))
	require.NoError(t, worker.Process(context.Background(), msg))

	writes := tracker.byJob["job-1"]
	for i := 1; i < len(writes); i++ {
		assert.GreaterOrEqual(t, writes[i], writes[i-1])
	}
	assert.Equal(t, 100, writes[len(writes)-1])
}

func TestHeaderOnlyFileCompletes(t *testing.T) {
	store := newMemStore()
	tracker := newFakeTracker()
	worker, _ := newTestWorker(t, store, tracker)

	msg := types.NewJobMessage("job-1", []byte("title,release_year,duration\n"))
	require.NoError(t, worker.Process(context.Background(), msg))

	assert.Empty(t, store.records["job-1"])
	assert.Equal(t, []int{100}, tracker.byJob["job-1"])
}

func TestMalformedFileFails(t *testing.T) {
	store := newMemStore()
	tracker := newFakeTracker()
	worker, _ := newTestWorker(t, store, tracker)

	// A bare quote mid-field is invalid CSV.
	csv := "title,release_year\nMovie A,2023\nbad\"row,19\"9x\n"
	msg := types.NewJobMessage("job-1", []byte(csv))
	err := worker.Process(context.Background(), msg)

	require.Error(t, err)
	assert.Equal(t, -1, lastWrite(t, tracker, "job-1"))
}

func TestCorruptEnvelopeFails(t *testing.T) {
	store := newMemStore()
	tracker := newFakeTracker()
	worker, _ := newTestWorker(t, store, tracker)

	msg := types.JobMessage{JobID: "job-1", FileContent: "%%% not base64 %%%"}
	err := worker.Process(context.Background(), msg)

	require.Error(t, err)
	assert.Equal(t, -1, lastWrite(t, tracker, "job-1"))
	assert.Empty(t, store.records["job-1"])
}

func TestCancelledContextFailsJob(t *testing.T) {
	store := newMemStore()
	tracker := newFakeTracker()
	worker, _ := newTestWorker(t, store, tracker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg := types.NewJobMessage("job-1", catalogCSV(10))
	err := worker.Process(ctx, msg)

	require.Error(t, err)
	assert.Equal(t, -1, lastWrite(t, tracker, "job-1"))
	assert.Empty(t, store.records["job-1"])
}

func TestConcurrentJobsProgressIndependently(t *testing.T) {
	tracker := newFakeTracker()

	done := make(chan string, 2)
	for _, rows := range []int{100, 5} {
		rows := rows
		go func() {
			// Each goroutine gets its own store and scratch dir, sharing
			// only the progress tracker, mirroring two worker instances.
			store := newMemStore()
			scratch, err := os.MkdirTemp("", "ingest-test")
			if err != nil {
				done <- err.Error()
				return
			}
			defer os.RemoveAll(scratch)

			worker, err := NewWorker(store, &lockedTracker{inner: tracker}, scratch)
			if err != nil {
				done <- err.Error()
				return
			}

			jobID := fmt.Sprintf("job-%d", rows)
			if err := worker.Process(context.Background(), types.NewJobMessage(jobID, catalogCSV(rows))); err != nil {
				done <- err.Error()
				return
			}
			done <- ""
		}()
	}

	for i := 0; i < 2; i++ {
		if msg := <-done; msg != "" {
			t.Fatal(msg)
		}
	}

	assert.Len(t, tracker.byJob["job-100"], 10)
	assert.Len(t, tracker.byJob["job-5"], 1)
	assert.Equal(t, 100, lastWrite(t, tracker, "job-100"))
	assert.Equal(t, 100, lastWrite(t, tracker, "job-5"))
}
