/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache stores model replies by request hash.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, reply string) error
}

type noCache struct{}

func (noCache) Get(context.Context, string) (string, bool, error) { return "", false, nil }
func (noCache) Set(context.Context, string, string) error         { return nil }

func cacheKey(base, model string, temp float64, system, user string) string {
	h := sha256.New()
	for _, p := range []string{base, model, strconv.FormatFloat(temp, 'f', -1, 64), system, user} {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryCache keeps replies for the life of the process.
type MemoryCache struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemoryCache() *MemoryCache { return &MemoryCache{m: map[string]string{}} }

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[key]
	return v, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key, reply string) error {
	c.mu.Lock()
	c.m[key] = reply
	c.mu.Unlock()
	return nil
}

// Len reports the number of cached replies.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// RedisCache shares replies between processes (CLI runs and the API server).
type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache connects to url (redis://...) and pings it.
func NewRedisCache(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &RedisCache{rdb: rdb, ttl: ttl, prefix: "gsb:llm:"}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, reply string) error {
	return c.rdb.Set(ctx, c.prefix+key, reply, c.ttl).Err()
}

func (c *RedisCache) Close() error { return c.rdb.Close() }
