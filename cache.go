/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/Seednode/jeopardy/trivia"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheKeyPrefix = "jeopardy:category:"

// cachedService coalesces identical in-flight requests and, when a redis
// client is configured, keeps category details for ttl. The candidate pool
// is never cached so every board samples from a fresh listing.
type cachedService struct {
	cfg   *Config
	next  trivia.Service
	redis *redis.Client
	ttl   time.Duration
	group singleflight.Group
}

func newCachedService(cfg *Config, next trivia.Service) *cachedService {
	s := &cachedService{
		cfg:  cfg,
		next: next,
		ttl:  cfg.cacheTTL,
	}

	if cfg.redisAddr == "" {
		return s
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.redisAddr,
		Password: cfg.redisPassword,
		DB:       cfg.redisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		errorf(cfg, "Redis at %s unavailable, category cache disabled: %v", cfg.redisAddr, err)
		_ = client.Close()

		return s
	}

	logf(cfg, "CACHE: Caching category data in redis at %s for %s", cfg.redisAddr, cfg.cacheTTL)
	s.redis = client

	return s
}

// share runs fn once for all concurrent callers of key. The shared fetch is
// detached from any single caller, so a caller giving up only abandons its
// own wait.
func (s *cachedService) share(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := s.group.DoChan(key, func() (any, error) {
		shared := context.WithoutCancel(ctx)
		if s.cfg.apiTimeout > 0 {
			var cancel context.CancelFunc
			shared, cancel = context.WithTimeout(shared, s.cfg.apiTimeout)
			defer cancel()
		}

		return fn(shared)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *cachedService) Categories(ctx context.Context, count int) ([]trivia.CategorySummary, error) {
	v, err := s.share(ctx, "categories:"+strconv.Itoa(count), func(ctx context.Context) (any, error) {
		return s.next.Categories(ctx, count)
	})
	if err != nil {
		return nil, err
	}

	return v.([]trivia.CategorySummary), nil
}

func (s *cachedService) Category(ctx context.Context, id int) (*trivia.CategoryData, error) {
	key := cacheKeyPrefix + strconv.Itoa(id)

	v, err := s.share(ctx, key, func(ctx context.Context) (any, error) {
		if data := s.lookup(ctx, key); data != nil {
			return data, nil
		}

		data, err := s.next.Category(ctx, id)
		if err != nil {
			return nil, err
		}

		s.store(ctx, key, data)

		return data, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*trivia.CategoryData), nil
}

// lookup returns nil on a miss or on any redis error.
func (s *cachedService) lookup(ctx context.Context, key string) *trivia.CategoryData {
	if s.redis == nil {
		return nil
	}

	raw, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			errorf(s.cfg, "Redis get %s: %v", key, err)
		}

		return nil
	}

	var data trivia.CategoryData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil
	}

	return &data
}

func (s *cachedService) store(ctx context.Context, key string, data *trivia.CategoryData) {
	if s.redis == nil {
		return
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return
	}

	if err := s.redis.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		errorf(s.cfg, "Redis set %s: %v", key, err)
	}
}

func (s *cachedService) Close() error {
	if s.redis == nil {
		return nil
	}

	return s.redis.Close()
}
