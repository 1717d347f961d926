package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *ActivityStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "activity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndReadActivity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordActivity(ctx, "alice", "query", "sessions last week"))
	require.NoError(t, s.RecordActivity(ctx, "alice", "report", "composite for 123456789"))
	require.NoError(t, s.RecordActivity(ctx, "bob", "query", "pageviews"))

	records, err := s.RecentActivity(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest first.
	assert.Equal(t, "report", records[0].Action)
	assert.Equal(t, "query", records[1].Action)
	assert.Equal(t, "sessions last week", records[1].Details)
	assert.False(t, records[0].CreatedAt.IsZero())
}

func TestRecentActivityEmptyForUnknownCaller(t *testing.T) {
	s := openTestStore(t)

	records, err := s.RecentActivity(context.Background(), "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDefaultTargetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	target, err := s.DefaultTarget(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, target)

	require.NoError(t, s.SetDefaultTarget(ctx, "alice", "123456789"))
	target, err = s.DefaultTarget(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "123456789", target)

	// Replacing overwrites, not duplicates.
	require.NoError(t, s.SetDefaultTarget(ctx, "alice", "987654321"))
	target, err = s.DefaultTarget(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "987654321", target)
}

func TestOpenCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "activity.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.RecordActivity(context.Background(), "alice", "query", ""))
}
