package lease

import (
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestAcquireIsExclusive(t *testing.T) {
	_, client := newClient(t)
	ctx := context.Background()

	a := NewLocker(client, "instance-a")
	b := NewLocker(client, "instance-b")

	held, err := a.Acquire(ctx, "rbac:sync", time.Minute)
	require.NoError(t, err)

	_, err = b.Acquire(ctx, "rbac:sync", time.Minute)
	require.ErrorIs(t, err, ErrHeld)

	require.NoError(t, held.Release(ctx))

	again, err := b.Acquire(ctx, "rbac:sync", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestReleaseKeepsForeignLease(t *testing.T) {
	mr, client := newClient(t)
	ctx := context.Background()

	a := NewLocker(client, "instance-a")
	held, err := a.Acquire(ctx, "rbac:sync", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	b := NewLocker(client, "instance-b")
	_, err = b.Acquire(ctx, "rbac:sync", time.Minute)
	require.NoError(t, err)

	require.NoError(t, held.Release(ctx))
	owner, err := client.Get(ctx, "rbac:sync").Result()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(owner, "instance-b:"), owner)
}

func TestAcquireRefusesSecondRunInSameProcess(t *testing.T) {
	_, client := newClient(t)
	ctx := context.Background()

	a := NewLocker(client, "instance-a")
	first, err := a.Acquire(ctx, "rbac:sync", time.Minute)
	require.NoError(t, err)

	_, err = a.Acquire(ctx, "rbac:sync", time.Minute)
	require.ErrorIs(t, err, ErrHeld)

	require.NoError(t, first.Release(ctx))
	second, err := a.Acquire(ctx, "rbac:sync", time.Minute)
	require.NoError(t, err)

	require.NoError(t, first.Release(ctx))
	exists, err := client.Exists(ctx, "rbac:sync").Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, exists, "stale release must not drop a newer lease")
	require.NoError(t, second.Release(ctx))
}
