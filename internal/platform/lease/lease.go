// Package lease provides a Redis backed mutual-exclusion lease for batch
// tasks that should run on one instance at a time.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when the lease is already held.
var ErrHeld = errors.New("lease: already held")

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker acquires named leases.
type Locker struct {
	client redis.Cmdable
	owner  string
}

// NewLocker builds a Locker. An empty owner gets a random instance id.
func NewLocker(client redis.Cmdable, owner string) *Locker {
	if owner == "" {
		owner = uuid.NewString()
	}
	return &Locker{client: client, owner: owner}
}

// Lease is a held lock. Release it when done; it also expires after ttl.
type Lease struct {
	client redis.Cmdable
	key    string
	token  string
}

// Acquire takes the lease identified by key for ttl. It returns ErrHeld
// whenever the key is held, including by an earlier Acquire of this Locker.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("lease: locker not configured")
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	token := l.owner + ":" + uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lease: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lease{client: l.client, key: key, token: token}, nil
}

// Release drops the lease if it is still owned by the holder.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("lease: release %s: %w", l.key, err)
	}
	return nil
}
