package alertstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/supergoodsystems/exfilguard-go/pkg/event"
)

func openStore(t *testing.T, limit int) *Store {
	t.Helper()
	s, err := Open(Options{DSN: filepath.Join(t.TempDir(), "alerts.db"), Cap: limit})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func block(i int, at time.Time) *event.Block {
	return &event.Block{
		ID:       fmt.Sprintf("id-%03d", i),
		Time:     at,
		URL:      fmt.Sprintf("https://api.telegram.org/bot%d/sendMessage", i),
		Method:   "POST",
		Evidence: "?\npassword=x",
		Source:   "fetch",
	}
}

func TestStore_capNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, 5)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 8; i++ {
		require.NoError(t, s.Save(ctx, block(i, base.Add(time.Duration(i)*time.Second))))
	}

	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(5), n)

	got, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 5)
	require.Equal(t, "id-007", got[0].ID)
	require.Equal(t, "id-003", got[4].ID)
	require.Equal(t, "fetch", got[0].Source)

	got, err = s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestStore_outOfOrderAndDuplicates(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, 0)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	late := block(1, base.Add(time.Minute))
	early := block(2, base)
	require.NoError(t, s.Save(ctx, late))
	require.NoError(t, s.Save(ctx, early))
	require.NoError(t, s.Save(ctx, late))

	got, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "id-001", got[0].ID)
	require.Equal(t, "id-002", got[1].ID)
}

func TestStore_Handle(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, 0)

	env, err := event.Blocked(event.NewBlock("https://telegram.org/", "GET", "?token=1\n"))
	require.NoError(t, err)
	require.NoError(t, s.Handle(ctx, env))
	require.NoError(t, s.Handle(ctx, env))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	require.Error(t, s.Handle(ctx, event.Envelope{Kind: event.KindBlocked, Payload: []byte("nope")}))
	require.NoError(t, s.Handle(ctx, event.Envelope{Kind: "unknown"}))

	require.NoError(t, s.Handle(ctx, event.ClearAlerts()))
	n, err = s.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestOpen_errors(t *testing.T) {
	_, err := Open(Options{})
	require.Error(t, err)
}
