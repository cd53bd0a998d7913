package local_test

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/directory-crawler/internal/crawler"
	"github.com/JakeFAU/directory-crawler/internal/storage/local"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path) // #nosec G304 -- test temp file.
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()

	var out []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var row map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		out = append(out, row)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestAppendWritesOneLinePerRecord(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "profiles.jsonl")
	sink, err := local.New(local.Config{Path: path})
	require.NoError(t, err)

	rating := 4.5
	ctx := context.Background()
	require.NoError(t, sink.Append(ctx, crawler.Record{
		ID:         "https://www.vitals.com/doctors/dr-a",
		Fields:     crawler.Fields{Name: "Dr. A", Rating: &rating, City: "Austin"},
		Provenance: crawler.ProvenanceJSONLD,
		FetchedAt:  time.Unix(1_700_000_000, 0).UTC(),
	}))
	require.NoError(t, sink.Append(ctx, crawler.Record{ID: "https://www.vitals.com/doctors/dr-b", Provenance: crawler.ProvenanceHTML}))
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	require.Error(t, sink.Append(ctx, crawler.Record{ID: "late"}))

	rows := readLines(t, path)
	require.Len(t, rows, 2)
	require.Equal(t, "Dr. A", rows[0]["name"])
	require.Equal(t, "json-ld", rows[0]["source"])
	require.InDelta(t, 4.5, rows[0]["rating"], 1e-9)
	require.NotContains(t, rows[0], "City")
	require.Nil(t, rows[1]["rating"], "unknown ratings are emitted as null")
	require.Contains(t, rows[1], "reviews")
}

func TestNewAppendsOrTruncates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "profiles.jsonl")
	for i := 0; i < 2; i++ {
		sink, err := local.New(local.Config{Path: path})
		require.NoError(t, err)
		require.NoError(t, sink.Append(context.Background(), crawler.Record{ID: "x"}))
		require.NoError(t, sink.Close())
	}
	require.Len(t, readLines(t, path), 2)

	sink, err := local.New(local.Config{Path: path, Truncate: true})
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.Empty(t, readLines(t, path))
}

func TestNewRejectsBadPaths(t *testing.T) {
	t.Parallel()

	_, err := local.New(local.Config{})
	require.Error(t, err)
	_, err = local.New(local.Config{Path: t.TempDir()})
	require.ErrorContains(t, err, "is a directory")
}
