package authcore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/careermate/authcore/account"
	"github.com/careermate/authcore/clock"
	"github.com/careermate/authcore/ids"
	"github.com/careermate/authcore/logging"
	"github.com/careermate/authcore/password"
	"github.com/redis/go-redis/v9"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type sentMessage struct {
	to, subject, body string
}

type channelNotifier struct {
	ch  chan sentMessage
	err error
}

func (n *channelNotifier) Send(_ context.Context, to, subject, body string) error {
	n.ch <- sentMessage{to: to, subject: subject, body: body}
	return n.err
}

type harness struct {
	engine   *Engine
	clock    *clock.Fake
	ids      *ids.Sequence
	accounts *account.MemoryStore
	notes    *channelNotifier
	audit    *ChannelAuditSink
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	hasher   *password.Hasher
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Secret = logging.SecretString(strings.Repeat("k", 32))
	cfg.JWT.KeyID = "k1"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Parallelism = 1
	cfg.PasswordReset.MinResponse = 0
	cfg.Audit.BufferSize = 64
	cfg.Audit.DropIfFull = false
	return cfg
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()

	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hasher, err := password.NewHasher(cfg.Password.hasherConfig())
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	good, err := hasher.Hash("Good1!")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	h := &harness{
		clock: clock.NewFake(testEpoch),
		ids:   ids.NewSequence("id"),
		accounts: account.NewMemoryStore(
			account.Account{ID: "u1", Email: "a@x.com", PasswordHash: good, Status: StatusActive, Roles: []string{"CANDIDATE"}},
			account.Account{ID: "u2", Email: "locked@x.com", PasswordHash: good, Status: StatusLocked},
		),
		notes:  &channelNotifier{ch: make(chan sentMessage, 16)},
		audit:  NewChannelAuditSink(256),
		mr:     mr,
		rdb:    rdb,
		hasher: hasher,
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(h.accounts).
		WithNotifier(h.notes).
		WithClock(h.clock).
		WithIDGenerator(h.ids).
		WithLogger(logging.Discard()).
		WithAuditSink(h.audit).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	h.engine = engine
	return h
}

func (h *harness) login(t *testing.T) TokenPair {
	t.Helper()
	pair, err := h.engine.Authenticate(context.Background(), "a@x.com", "Good1!")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	return pair
}

func (h *harness) nextMessage(t *testing.T) sentMessage {
	t.Helper()
	select {
	case msg := <-h.notes.ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no notification delivered")
		return sentMessage{}
	}
}

func (h *harness) noMessage(t *testing.T) {
	t.Helper()
	h.engine.Close()
	select {
	case msg := <-h.notes.ch:
		t.Fatalf("unexpected notification to %s", msg.to)
	default:
	}
}

// auditTypes drains the audit sink after closing the engine.
func (h *harness) auditTypes(t *testing.T) []string {
	t.Helper()
	h.engine.Close()
	var types []string
	for {
		select {
		case ev := <-h.audit.Events():
			types = append(types, ev.Type)
		default:
			return types
		}
	}
}
