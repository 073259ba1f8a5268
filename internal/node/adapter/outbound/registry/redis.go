package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anthanhphan/gosdk/logger"
	"github.com/redis/go-redis/v9"

	"github.com/anthanhphan/go-chord/internal/node/port"
	"github.com/anthanhphan/go-chord/pkg/ring"
)

const DefaultPrefix = "chord:node:"

var _ port.ContactSource = (*RedisRegistry)(nil)

type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// RedisRegistry keeps ring members under expiring keys so a starting node can
// find someone to join through.
type RedisRegistry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	self   ring.Node

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRedisRegistry(cfg Config, self ring.Node) *RedisRegistry {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisRegistry{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		self:   self,
	}
}

func (r *RedisRegistry) key(node ring.Node) string {
	return r.prefix + node.HostPort()
}

// Register writes the local node and refreshes it every half TTL until Close.
func (r *RedisRegistry) Register(ctx context.Context) error {
	if err := r.put(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.keepalive(loopCtx, r.done)
	return nil
}

func (r *RedisRegistry) put(ctx context.Context) error {
	data, err := json.Marshal(r.self)
	if err != nil {
		return fmt.Errorf("failed to encode node: %w", err)
	}
	if err := r.client.Set(ctx, r.key(r.self), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to register node: %w", err)
	}
	return nil
}

func (r *RedisRegistry) keepalive(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.put(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warnw("Registry refresh failed", "key", r.key(r.self), "error", err.Error())
			}
		}
	}
}

// Contacts returns registered members other than the local node.
func (r *RedisRegistry) Contacts(ctx context.Context) ([]ring.Node, error) {
	var nodes []ring.Node
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 64).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if key == r.key(r.self) {
			continue
		}
		data, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		node, err := decodeNode(data)
		if err != nil {
			logger.Warnw("Skipping malformed registry entry", "key", key, "error", err.Error())
			continue
		}
		if node.Same(r.self) {
			continue
		}
		nodes = append(nodes, node)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan registry: %w", err)
	}
	return nodes, nil
}

// Close stops the refresh loop and removes the local entry.
func (r *RedisRegistry) Close() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	ctx, cancelDel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelDel()
	if err := r.client.Del(ctx, r.key(r.self)).Err(); err != nil {
		logger.Warnw("Failed to deregister node", "key", r.key(r.self), "error", err.Error())
	}
	return r.client.Close()
}

func decodeNode(data []byte) (ring.Node, error) {
	var node ring.Node
	if err := json.Unmarshal(data, &node); err != nil {
		return ring.Node{}, err
	}
	if node.IsNull() || node.ID < 0 || node.ID >= ring.Size || node.Port <= 0 {
		return ring.Node{}, fmt.Errorf("invalid node %q", string(data))
	}
	return node, nil
}
