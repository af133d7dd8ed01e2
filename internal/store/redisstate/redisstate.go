// Package redisstate keeps small pieces of shared state in Redis: the
// config key/value store (heartbeat briefing markers) and the security
// event stream other processes subscribe to.
package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fyrsmithlabs/crewgate/internal/crew"
	"github.com/fyrsmithlabs/crewgate/internal/store"
)

const (
	// DefaultKeyPrefix namespaces config keys.
	DefaultKeyPrefix = "crewgate:config:"
	// DefaultStream is the stream security events are appended to.
	DefaultStream = "crewgate.security"
	// DefaultStreamMaxLen bounds the stream length.
	DefaultStreamMaxLen = 10000
)

// Connect parses a redis:// URL and returns a client that has answered a
// PING.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return rdb, nil
}

// ConfigStore implements store.Config on Redis strings.
type ConfigStore struct {
	rdb    redis.Cmdable
	prefix string
}

var _ store.Config = (*ConfigStore)(nil)

// NewConfigStore creates a ConfigStore. An empty prefix uses
// DefaultKeyPrefix.
func NewConfigStore(rdb redis.Cmdable, prefix string) *ConfigStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &ConfigStore{rdb: rdb, prefix: prefix}
}

// GetConfig returns store.ErrNotFound for a missing key.
func (c *ConfigStore) GetConfig(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("config %q: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("reading config %q: %w", key, err)
	}
	return v, nil
}

func (c *ConfigStore) SetConfig(ctx context.Context, key, value string) error {
	if err := c.rdb.Set(ctx, c.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("writing config %q: %w", key, err)
	}
	return nil
}

// Publisher appends security events to a Redis stream.
type Publisher struct {
	rdb    redis.Cmdable
	stream string
	maxLen int64
	now    func() time.Time
}

var _ store.EventPublisher = (*Publisher)(nil)

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithStream sets the stream name.
func WithStream(name string) PublisherOption {
	return func(p *Publisher) {
		if name != "" {
			p.stream = name
		}
	}
}

// WithMaxLen caps the stream length. Zero leaves it unbounded.
func WithMaxLen(n int64) PublisherOption {
	return func(p *Publisher) { p.maxLen = n }
}

// NewPublisher creates a Publisher on DefaultStream.
func NewPublisher(rdb redis.Cmdable, opts ...PublisherOption) *Publisher {
	p := &Publisher{rdb: rdb, stream: DefaultStream, maxLen: DefaultStreamMaxLen, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stream returns the stream name.
func (p *Publisher) Stream() string { return p.stream }

// PublishSecurityEvent adds one entry per event. Each entry carries a
// fresh event_id so consumers can de-duplicate re-publications.
func (p *Publisher) PublishSecurityEvent(ctx context.Context, ev crew.SecurityEvent) error {
	details := "{}"
	if len(ev.Details) > 0 {
		b, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("encoding event details: %w", err)
		}
		details = string(b)
	}
	created := ev.CreatedAt
	if created.IsZero() {
		created = p.now()
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Values: map[string]any{
			"event_id":           uuid.NewString(),
			"id":                 strconv.FormatInt(ev.ID, 10),
			"reporter_id":        strconv.FormatInt(ev.ReporterID, 10),
			"threat_domain":      string(ev.Domain),
			"severity":           string(ev.Severity),
			"title":              ev.Title,
			"details":            details,
			"recommended_action": ev.RecommendedAction,
			"created_at":         created.UTC().Format(time.RFC3339),
		},
	}
	if err := p.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publishing security event %d: %w", ev.ID, err)
	}
	return nil
}
