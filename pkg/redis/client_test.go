package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/storyline-backend/pkg/config"
)

func TestFixedWindowAllowCountsPerWindow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	now := time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)
	client := &Client{store: mock, now: func() time.Time { return now }}

	for i, want := range []bool{true, true, false} {
		allowed, count, err := client.FixedWindowAllow(ctx, "flags:203.0.113.7", 2, time.Minute)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if allowed != want || count != int64(i+1) {
			t.Fatalf("call %d: allowed=%v count=%d", i, allowed, count)
		}
	}
	if len(mock.expireCalls) != 1 || mock.expireCalls[0].ttl != time.Minute {
		t.Fatalf("expected a single expire for the window, got %+v", mock.expireCalls)
	}
	if !strings.HasPrefix(mock.expireCalls[0].key, "sl:rate_limit:flags:203.0.113.7:") {
		t.Fatalf("unexpected window key %s", mock.expireCalls[0].key)
	}

	now = now.Add(time.Minute)
	allowed, count, err := client.FixedWindowAllow(ctx, "flags:203.0.113.7", 2, time.Minute)
	if err != nil || !allowed || count != 1 {
		t.Fatalf("expected a fresh window, got allowed=%v count=%d err=%v", allowed, count, err)
	}
	if len(mock.expireCalls) != 2 {
		t.Fatalf("expected the new window to get its own expiry")
	}

	if _, _, err := client.FixedWindowAllow(ctx, "x", 1, 0); err == nil {
		t.Fatal("expected zero window to fail")
	}
}

func TestIncrWithTTLReportsExpireFailure(t *testing.T) {
	mock := newMockCmdable()
	mock.expireErr = errors.New("READONLY")
	client := &Client{store: mock}

	count, err := client.IncrWithTTL(context.Background(), "sl:admin:failures:10.0.0.1", time.Minute)
	if err == nil || count != 1 {
		t.Fatalf("expected expire error with count 1, got count=%d err=%v", count, err)
	}
}

func TestSetExistsDel(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	key := client.AdminCooldownKey("203.0.113.7")
	if exists, err := client.Exists(ctx, key); err != nil || exists {
		t.Fatalf("expected missing key, got exists=%v err=%v", exists, err)
	}
	if err := client.Set(ctx, key, "1", 15*time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if exists, err := client.Exists(ctx, key); err != nil || !exists {
		t.Fatalf("expected key to exist, got exists=%v err=%v", exists, err)
	}
	claimed, err := client.SetNX(ctx, key, "2", time.Minute)
	if err != nil || claimed {
		t.Fatalf("expected SetNX to lose against existing key, got %v err=%v", claimed, err)
	}
	if err := client.Del(ctx, key); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := client.Get(ctx, key); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestUninitializedClientErrors(t *testing.T) {
	var nilClient *Client
	if err := nilClient.Ping(context.Background()); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	client := &Client{}
	if _, err := client.Exists(context.Background(), "k"); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if _, _, err := client.FixedWindowAllow(context.Background(), "k", 1, time.Second); err == nil {
		t.Fatal("expected error without store")
	}
	if err := nilClient.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	cases := map[string]string{
		client.IdempotencyKey("checkout", "abc"):  "sl:idempotency:checkout:abc",
		client.IdempotencyKey("checkout", ""):     "sl:idempotency:checkout",
		client.AdminFailureKey("10.0.0.1"):        "sl:admin:failures:10.0.0.1",
		client.AdminCooldownKey("10.0.0.1"):       "sl:admin:cooldown:10.0.0.1",
		client.CronLockKey("checkout-sweep"):      "sl:cron:lock:checkout-sweep",
		client.IdempotencyKey(" webhook ", "evt"): "sl:idempotency:webhook:evt",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://:pw@cache:6380/2", PoolSize: 7})
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.Addr != "cache:6380" || opts.DB != 2 || opts.Password != "pw" || opts.PoolSize != 7 {
		t.Fatalf("unexpected options %+v", opts)
	}
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatal("expected missing address to fail")
	}
}

type mockCmdable struct {
	data        map[string]string
	ttls        map[string]time.Duration
	incr        map[string]int64
	expireCalls []expireCall
	expireErr   error
}

type expireCall struct {
	key string
	ttl time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		ttls: make(map[string]time.Duration),
		incr: make(map[string]int64),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	m.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Incr(ctx context.Context, key string) *redis.IntCmd {
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	if m.expireErr != nil {
		return redis.NewBoolResult(false, m.expireErr)
	}
	m.expireCalls = append(m.expireCalls, expireCall{key: key, ttl: expiration})
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
		delete(m.ttls, key)
		delete(m.incr, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *mockCmdable) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, key := range keys {
		if _, ok := m.data[key]; ok {
			n++
			continue
		}
		if _, ok := m.incr[key]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}
