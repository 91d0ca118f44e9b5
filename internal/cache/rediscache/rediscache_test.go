package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/tournevent/shipflow/internal/webhook"
)

var _ webhook.Deduper = (*Deduper)(nil)

func TestDeduper_FirstSeen(t *testing.T) {
	mr := miniredis.RunT(t)
	d := New(mr.Addr(), time.Minute)
	t.Cleanup(func() { _ = d.Close() })

	ctx := context.Background()
	require.NoError(t, d.Ping(ctx))

	first, err := d.FirstSeen(ctx, "webhook:acme:abc")
	require.NoError(t, err)
	require.True(t, first)

	again, err := d.FirstSeen(ctx, "webhook:acme:abc")
	require.NoError(t, err)
	require.False(t, again)

	other, err := d.FirstSeen(ctx, "webhook:acme:def")
	require.NoError(t, err)
	require.True(t, other)
}

func TestDeduper_KeysExpire(t *testing.T) {
	mr := miniredis.RunT(t)
	d := New(mr.Addr(), time.Minute)
	ctx := context.Background()

	_, err := d.FirstSeen(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, time.Minute, mr.TTL("k"))

	mr.FastForward(2 * time.Minute)

	first, err := d.FirstSeen(ctx, "k")
	require.NoError(t, err)
	require.True(t, first)
}

func TestDeduper_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	d := New(mr.Addr(), time.Minute)
	mr.Close()

	_, err := d.FirstSeen(context.Background(), "k")
	require.Error(t, err)
}
