package chathub_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"tastechat/backend/internal/chathub"
	"tastechat/backend/internal/config"
	"tastechat/backend/internal/encryption"
	"tastechat/backend/internal/models"
	"tastechat/backend/internal/ratelimit"
	"tastechat/backend/internal/storage"
	"tastechat/backend/internal/taste"

	"github.com/rs/zerolog"
)

var testKey = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, encryption.KeySize))

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type notification struct {
	UserIDs []string
	Msg     models.ChatMessage
}

// recorder captures every notification.
type recorder struct {
	mu    sync.Mutex
	notes []notification
}

func (r *recorder) Notify(_ context.Context, userIDs []string, msg models.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, notification{UserIDs: append([]string(nil), userIDs...), Msg: msg})
	return nil
}

func (r *recorder) ofType(msgType string) []notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []notification
	for _, n := range r.notes {
		if n.Msg.Type == msgType {
			out = append(out, n)
		}
	}
	return out
}

type testEnv struct {
	cfg      *config.Config
	store    *storage.Memory
	messages *chathub.MessageStore
	registry *chathub.Registry
	matcher  *chathub.MatcherService
	notes    *recorder
	clock    *fakeClock
}

func newTestEnv(t *testing.T, scorer taste.Scorer) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, scorer, config.Default())
}

func newTestEnvWithConfig(t *testing.T, scorer taste.Scorer, cfg *config.Config) *testEnv {
	t.Helper()

	if scorer == nil {
		scorer = taste.Constant(1)
	}
	logger := zerolog.Nop()
	clock := &fakeClock{now: time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)}
	store := storage.NewMemory()
	notes := &recorder{}

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), ratelimit.RulesFromConfig(cfg.Limits), logger)
	limiter.SetClock(clock.Now)

	messages := chathub.NewMessageStore(store, encryption.NewEngine(testKey, logger), cfg.Limits, logger)
	messages.SetClock(clock.Now)

	registry := chathub.NewRegistry(store, messages, limiter, notes, cfg.Session, logger)
	registry.SetClock(clock.Now)

	matcher := chathub.NewMatcherService(registry, scorer, store, notes, cfg.Matching, logger)
	matcher.SetClock(clock.Now)

	return &testEnv{
		cfg:      cfg,
		store:    store,
		messages: messages,
		registry: registry,
		matcher:  matcher,
		notes:    notes,
		clock:    clock,
	}
}

// pair matches two users and returns their room.
func (e *testEnv) pair(t *testing.T, userA, userB string) models.ChatRoom {
	t.Helper()

	room, err := e.registry.CreateChatRoom(context.Background(), userA, userB)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return room
}

// scoreTable scores pairs from a map keyed "a|b" in either order.
func scoreTable(scores map[string]float64) taste.Scorer {
	return taste.ScorerFunc(func(_ context.Context, a, b string) (float64, error) {
		if s, ok := scores[a+"|"+b]; ok {
			return s, nil
		}
		return scores[b+"|"+a], nil
	})
}

func withMinScore(e *testEnv, min float64) config.Matching {
	m := e.cfg.Matching
	m.MinScore = min
	return m
}

func zerologNop() zerolog.Logger {
	return zerolog.Nop()
}
