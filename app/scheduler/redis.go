package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisHaltBus carries halt events over a Redis pub/sub channel
type RedisHaltBus struct {
	rc      *redis.Client
	channel string
	logger  *log.Logger
}

func NewRedisHaltBus(rc *redis.Client, channel string, logger *log.Logger) *RedisHaltBus {
	if logger == nil {
		logger = log.Default()
	}
	return &RedisHaltBus{rc: rc, channel: channel, logger: logger}
}

func (b *RedisHaltBus) Publish(ctx context.Context, ev HaltEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rc.Publish(ctx, b.channel, payload).Err()
}

// Subscribe confirms the subscription, then delivers events on a goroutine until ctx is done
func (b *RedisHaltBus) Subscribe(ctx context.Context, fn func(HaltEvent)) error {
	sub := b.rc.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev HaltEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Printf("scheduler: bad halt event %q: %v", msg.Payload, err)
					continue
				}
				fn(ev)
			}
		}
	}()
	return nil
}

// CampaignLocker keeps two workers from processing the same campaign at once
type CampaignLocker interface {
	TryLock(ctx context.Context, campaignID uint) (unlock func(), ok bool, err error)
}

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCampaignLocker is a SETNX lease per campaign, released only by its holder
type RedisCampaignLocker struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCampaignLocker(rc *redis.Client, prefix string, ttl time.Duration) *RedisCampaignLocker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCampaignLocker{rc: rc, prefix: prefix, ttl: ttl}
}

func (l *RedisCampaignLocker) key(campaignID uint) string {
	if l.prefix == "" {
		return fmt.Sprintf("campaign_lock:%d", campaignID)
	}
	return fmt.Sprintf("%s:campaign_lock:%d", l.prefix, campaignID)
}

func (l *RedisCampaignLocker) TryLock(ctx context.Context, campaignID uint) (func(), bool, error) {
	key := l.key(campaignID)
	token := uuid.NewString()

	ok, err := l.rc.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func() {
		_ = releaseLockScript.Run(context.Background(), l.rc, []string{key}, token).Err()
	}
	return unlock, true, nil
}

// LocalCampaignLocker is the in-process locker used when Redis is not configured
type LocalCampaignLocker struct {
	mu   sync.Mutex
	held map[uint]bool
}

func NewLocalCampaignLocker() *LocalCampaignLocker {
	return &LocalCampaignLocker{held: make(map[uint]bool)}
}

func (l *LocalCampaignLocker) TryLock(_ context.Context, campaignID uint) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[campaignID] {
		return nil, false, nil
	}
	l.held[campaignID] = true
	return func() {
		l.mu.Lock()
		delete(l.held, campaignID)
		l.mu.Unlock()
	}, true, nil
}
