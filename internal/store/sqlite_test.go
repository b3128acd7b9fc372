package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"genflow/internal/core"
	"genflow/internal/store"
	"genflow/internal/store/storetest"
)

func getTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(context.Background(), t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.Store { return getTestStore(t) })
}

func TestOpenTwiceKeepsData(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	dir := t.TempDir()

	s, err := store.Open(ctx, dir, nil)
	require.NoError(err)
	require.NoError(s.CreateTask(ctx, storetest.NewTask("t1", "p1", "Pending", 0)))
	require.NoError(s.Close())

	s, err = store.Open(ctx, dir, nil)
	require.NoError(err)
	defer s.Close()

	got, err := s.GetTask(ctx, "t1")
	require.NoError(err)
	require.Equal("p1", got.ProjectID)
}
