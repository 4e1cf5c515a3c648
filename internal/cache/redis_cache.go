package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type RedisRuleSetCache struct {
	client *redis.Client
	prefix string
}

func NewRedisRuleSetCache(addr string, password string, db int) *RedisRuleSetCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisRuleSetCache{client: client, prefix: "paleteria:promos:"}
}

func (c *RedisRuleSetCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisRuleSetCache) Close() error {
	return c.client.Close()
}

func (c *RedisRuleSetCache) Get(ctx context.Context, key string) (RuleSet, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var rules RuleSet
	if err := json.Unmarshal(val, &rules); err != nil {
		return nil, false, err
	}
	return rules, true, nil
}

func (c *RedisRuleSetCache) Set(ctx context.Context, key string, rules RuleSet, ttl time.Duration) error {
	if rules == nil {
		rules = RuleSet{}
	}
	payload, err := json.Marshal(rules)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, payload, ttl).Err()
}

func (c *RedisRuleSetCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}
