package aggregator_test

import (
	"context"
	"errors"
	"sync"
	"time"

	agg "github.com/caat-at/sistema-sensores-humedad-agricola/internal/aggregator"

	"github.com/go-redis/redis/v8"
)

// fakeKVStore in-memory KV with TTL
type fakeKVStore struct {
	mu     sync.Mutex
	data   map[string]fakeKVItem
	setErr error
}

type fakeKVItem struct {
	value   string
	expires time.Time // zero = no ttl
}

func newFakeKVStore() *fakeKVStore {
	return &fakeKVStore{
		data: make(map[string]fakeKVItem),
	}
}

func (f *fakeKVStore) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	item, ok := f.data[key]
	if !ok {
		return "", agg.ErrCacheMiss
	}
	if !item.expires.IsZero() && time.Now().After(item.expires) {
		delete(f.data, key)
		return "", agg.ErrCacheMiss
	}
	return item.value, nil
}

func (f *fakeKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.setErr != nil {
		return f.setErr
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	f.data[key] = fakeKVItem{value: value, expires: exp}
	return nil
}

func (f *fakeKVStore) ttl(key string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.data[key]
	if !ok || item.expires.IsZero() {
		return 0
	}
	return time.Until(item.expires)
}

// fakeStream records XAdd calls
type fakeStream struct {
	mu   sync.Mutex
	args []*redis.XAddArgs
	fail bool
}

func (f *fakeStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStringCmd(ctx)
	if f.fail {
		cmd.SetErr(errors.New("stream unavailable"))
		return cmd
	}
	f.args = append(f.args, a)
	cmd.SetVal("1-0")
	return cmd
}
