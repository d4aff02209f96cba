// Package lease implements token-guarded, time-bounded locks on Redis.
//
// A lease is a single key created with SET NX PX. The value is a random
// token known only to the holder; extend and release compare the token
// and mutate the key in one server-side script so that a holder can never
// touch a lease that expired and was taken by someone else.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces bank file import leases.
const DefaultPrefix = "import:bankfile:lease:"

var (
	// ErrLeaseHeld is returned by Acquire when another owner holds the lease.
	ErrLeaseHeld = errors.New("lease: held by another owner")

	// ErrLeaseLost is returned by Extend and Release when the stored token
	// no longer matches, either because the lease expired or was taken over.
	ErrLeaseLost = errors.New("lease: ownership lost")
)

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

// Client is the subset of go-redis used by the Coordinator.
// *redis.Client, *redis.ClusterClient and redis.UniversalClient satisfy it.
type Client interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// Coordinator hands out leases keyed by name.
type Coordinator struct {
	client Client
	prefix string
	logger *slog.Logger
}

// NewCoordinator returns a Coordinator storing leases under DefaultPrefix.
func NewCoordinator(client Client, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		client: client,
		prefix: DefaultPrefix,
		logger: logger,
	}
}

// Key returns the Redis key backing the lease for name.
func (c *Coordinator) Key(name string) string {
	return c.prefix + name
}

// Acquire takes the lease for name if nobody holds it and returns the
// owner token.
func (c *Coordinator) Acquire(ctx context.Context, name string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("lease: acquire %s: ttl must be positive", name)
	}
	token := uuid.NewString()

	ok, err := c.client.SetNX(ctx, c.Key(name), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("lease: acquire %s: %w", name, err)
	}
	if !ok {
		return "", ErrLeaseHeld
	}

	c.logger.Debug("lease acquired", "lease", name, "ttl", ttl)
	return token, nil
}

// Extend resets the expiry of a lease the caller still owns.
func (c *Coordinator) Extend(ctx context.Context, name, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("lease: extend %s: ttl must be positive", name)
	}

	n, err := extendScript.Run(ctx, c.client, []string{c.Key(name)}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("lease: extend %s: %w", name, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}

	c.logger.Debug("lease extended", "lease", name, "ttl", ttl)
	return nil
}

// Release deletes a lease the caller still owns.
func (c *Coordinator) Release(ctx context.Context, name, token string) error {
	n, err := releaseScript.Run(ctx, c.client, []string{c.Key(name)}, token).Int()
	if err != nil {
		return fmt.Errorf("lease: release %s: %w", name, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}

	c.logger.Debug("lease released", "lease", name)
	return nil
}

// Held reports whether anybody currently holds the lease for name.
func (c *Coordinator) Held(ctx context.Context, name string) (bool, error) {
	n, err := c.client.Exists(ctx, c.Key(name)).Result()
	if err != nil {
		return false, fmt.Errorf("lease: check %s: %w", name, err)
	}
	return n > 0, nil
}
