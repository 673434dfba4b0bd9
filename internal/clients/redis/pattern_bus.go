package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/rulelearn/internal/learning"
	"github.com/yungbote/rulelearn/internal/logger"
)

// PatternBus fans pattern writes out to peer replicas so their index
// snapshots can drop early instead of waiting out the staleness bound.
type PatternBus interface {
	Publish(ctx context.Context, ev learning.PatternChange) error
	StartListener(ctx context.Context, onEvent func(ev learning.PatternChange)) error
	Close() error
}

type patternBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewPatternBus(log *logger.Logger) (PatternBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ch := strings.TrimSpace(os.Getenv("REDIS_PATTERN_CHANNEL"))
	if ch == "" {
		ch = "rule_patterns"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &patternBus{
		log:     log.With("client", "RedisPatternBus"),
		rdb:     rdb,
		channel: ch,
	}, nil
}

func (b *patternBus) Publish(ctx context.Context, ev learning.PatternChange) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("pattern bus not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *patternBus) StartListener(ctx context.Context, onEvent func(ev learning.PatternChange)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("pattern bus not initialized")
	}
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var ev learning.PatternChange
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.log.Warn("bad pattern bus payload", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()

	return nil
}

func (b *patternBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
