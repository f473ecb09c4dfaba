package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amirphl/funnel-campaigns/app/dto"
)

// VariableCache stores the placeholder list of a quiz
type VariableCache interface {
	Get(ctx context.Context, quizID uint) ([]dto.VariableDTO, bool)
	Set(ctx context.Context, quizID uint, vars []dto.VariableDTO)
}

// RedisVariableCache keeps quiz variables in Redis as JSON
type RedisVariableCache struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisVariableCache(rc *redis.Client, prefix string, ttl time.Duration) *RedisVariableCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisVariableCache{rc: rc, prefix: prefix, ttl: ttl}
}

func redisKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}

func (c *RedisVariableCache) key(quizID uint) string {
	return redisKey(c.prefix, fmt.Sprintf("quiz_variables:%d", quizID))
}

func (c *RedisVariableCache) Get(ctx context.Context, quizID uint) ([]dto.VariableDTO, bool) {
	raw, err := c.rc.Get(ctx, c.key(quizID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("variable cache: get quiz %d: %v", quizID, err)
		}
		return nil, false
	}

	var vars []dto.VariableDTO
	if err := json.Unmarshal(raw, &vars); err != nil {
		return nil, false
	}
	return vars, true
}

func (c *RedisVariableCache) Set(ctx context.Context, quizID uint, vars []dto.VariableDTO) {
	raw, err := json.Marshal(vars)
	if err != nil {
		return
	}
	if err := c.rc.Set(ctx, c.key(quizID), raw, c.ttl).Err(); err != nil {
		log.Printf("variable cache: set quiz %d: %v", quizID, err)
	}
}
