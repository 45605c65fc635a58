package frontier

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultNamespace prefixes the keys of a Redis frontier.
const DefaultNamespace = "taxcrawl:frontier"

// Redis is a Frontier kept in Redis as a list of queued URLs and a set of
// seen fingerprints. Several processes may share one namespace.
type Redis struct {
	client    *redis.Client
	queueKey  string
	seenKey   string
	ownClient bool
}

var _ Frontier = (*Redis)(nil)

// RedisOption configures a Redis frontier.
type RedisOption func(*Redis)

// WithNamespace sets the key prefix. Default is DefaultNamespace.
func WithNamespace(namespace string) RedisOption {
	return func(r *Redis) {
		if namespace != "" {
			r.queueKey = namespace + ":queue"
			r.seenKey = namespace + ":seen"
		}
	}
}

// NewRedis wraps an existing client. The caller keeps ownership of it.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client:   client,
		queueKey: DefaultNamespace + ":queue",
		seenKey:  DefaultNamespace + ":seen",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DialRedis connects to addr and verifies the connection with PING. The
// returned frontier closes the client on Close.
func DialRedis(ctx context.Context, addr string, opts ...RedisOption) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	r := NewRedis(client, opts...)
	r.ownClient = true
	return r, nil
}

func (r *Redis) Enqueue(ctx context.Context, urls ...string) (int, error) {
	added := 0
	for _, url := range urls {
		if url == "" {
			continue
		}
		n, err := r.client.SAdd(ctx, r.seenKey, seenKey(url)).Result()
		if err != nil {
			return added, fmt.Errorf("marking %s seen: %w", url, err)
		}
		if n == 0 {
			continue
		}
		if err := r.client.RPush(ctx, r.queueKey, url).Err(); err != nil {
			return added, fmt.Errorf("queueing %s: %w", url, err)
		}
		added++
	}
	return added, nil
}

func (r *Redis) Next(ctx context.Context) (string, error) {
	url, err := r.client.LPop(ctx, r.queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", fmt.Errorf("popping frontier: %w", err)
	}
	return url, nil
}

func (r *Redis) Len(ctx context.Context) (int, error) {
	n, err := r.client.LLen(ctx, r.queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("measuring frontier: %w", err)
	}
	return int(n), nil
}

func (r *Redis) Reset(ctx context.Context) error {
	if err := r.client.Del(ctx, r.queueKey, r.seenKey).Err(); err != nil {
		return fmt.Errorf("resetting frontier: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	if r.ownClient {
		return r.client.Close()
	}
	return nil
}
