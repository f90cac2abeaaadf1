package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/showgrid/catalog-ingest/pkg/types"
)

func TestBuildInsertSingleRow(t *testing.T) {
	rec := types.Record{
		ShowID: "s1", Type: "Movie", Title: "Movie A",
		ReleaseYear: "2023", Duration: "120",
	}

	query, args := buildInsert("job-1", 0, []types.Record{rec})

	assert.Contains(t, query, "INSERT INTO catalog_titles")
	assert.Contains(t, query, "ON CONFLICT (ingest_job_id, row_seq) DO NOTHING")
	assert.Contains(t, query, "($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)")

	require.Len(t, args, 14)
	assert.Equal(t, "job-1", args[0])
	assert.Equal(t, 0, args[1])
	assert.Equal(t, "s1", args[2])
	assert.Equal(t, "Movie A", args[4])
	assert.Equal(t, "2023", args[9])
}

func TestBuildInsertBatchNumbersRowsSequentially(t *testing.T) {
	recs := []types.Record{
		{Title: "Row 6"},
		{Title: "Row 7"},
		{Title: "Row 8"},
	}

	query, args := buildInsert("job-1", 5, recs)

	require.Len(t, args, 42)
	assert.Equal(t, 2, strings.Count(query, "), ("), "expected three value groups")

	// Row sequence numbers continue from startSeq.
	assert.Equal(t, 5, args[1])
	assert.Equal(t, 6, args[15])
	assert.Equal(t, 7, args[29])
	assert.Equal(t, "Row 8", args[32])

	// Placeholders are numbered across the whole statement.
	assert.Contains(t, query, "$42")
	assert.NotContains(t, query, "$43")
}
