package redis

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestSessionStoreSetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewSessionStore(newClient(mr), time.Minute, zerolog.Nop())
	host := domain.Identity{UserID: "host", Role: domain.RoleAdmin}
	session := app.NewSession("ABCD1234", sampleQuiz(), host.UserID)

	if !store.Add(session) {
		t.Fatalf("expected add to succeed")
	}
	if !mr.Exists("buzzer:session:ABCD1234") {
		t.Fatalf("expected redis key to be set")
	}
	if got := mr.HGet("buzzer:session:ABCD1234", "quiz_id"); got != "quiz-1" {
		t.Fatalf("expected quiz id recorded, got %q", got)
	}

	if err := session.End(host); err != nil {
		t.Fatalf("end: %v", err)
	}
	store.DeleteIfIdle("ABCD1234")
	if mr.Exists("buzzer:session:ABCD1234") || mr.Exists("buzzer:session:ABCD1234:claim") {
		t.Fatalf("expected redis keys to be removed")
	}
	if store.Count() != 0 {
		t.Fatalf("expected no sessions, got %d", store.Count())
	}
}

func TestSessionStoreCodesUniqueAcrossInstances(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	a := NewSessionStore(newClient(mr), time.Minute, zerolog.Nop())
	b := NewSessionStore(newClient(mr), time.Minute, zerolog.Nop())

	if !a.Add(app.NewSession("SAME0001", sampleQuiz(), "host")) {
		t.Fatalf("first claim should succeed")
	}
	if b.Add(app.NewSession("SAME0001", sampleQuiz(), "host")) {
		t.Fatalf("second instance must not reuse a claimed code")
	}
}

func TestSessionStoreKeepsActiveSession(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewSessionStore(newClient(mr), time.Minute, zerolog.Nop())
	store.Add(app.NewSession("LIVE0001", sampleQuiz(), "host"))
	store.DeleteIfIdle("LIVE0001")
	if _, ok := store.Get("LIVE0001"); !ok {
		t.Fatalf("waiting session must not be deleted")
	}
}

func TestSessionStoreRefreshRestoresTTL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewSessionStore(newClient(mr), time.Minute, zerolog.Nop())
	store.Add(app.NewSession("TTL00001", sampleQuiz(), "host"))
	mr.FastForward(50 * time.Second)

	// lookups must not extend the TTL on their own
	store.Get("TTL00001")
	if ttl := mr.TTL("buzzer:session:TTL00001:claim"); ttl != 10*time.Second {
		t.Fatalf("expected claim ttl untouched by Get, got %v", ttl)
	}

	if err := store.refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	for _, key := range []string{"buzzer:session:TTL00001", "buzzer:session:TTL00001:claim"} {
		if ttl := mr.TTL(key); ttl != time.Minute {
			t.Fatalf("expected %s ttl reset to a minute, got %v", key, ttl)
		}
	}
}

func TestSessionStoreLookupIgnoresStalledRedis(t *testing.T) {
	addr, closeListener := stalledListener(t)
	defer closeListener()

	client := redis.NewClient(&redis.Options{
		Addr:                  addr,
		DialTimeout:           200 * time.Millisecond,
		ReadTimeout:           200 * time.Millisecond,
		WriteTimeout:          200 * time.Millisecond,
		MaxRetries:            -1,
		ContextTimeoutEnabled: true,
	})
	defer client.Close()

	store := NewSessionStore(client, time.Minute, zerolog.Nop())
	store.opTimeout = 300 * time.Millisecond

	// Redis never answers, so the local map stays authoritative
	if !store.Add(app.NewSession("LIVE0002", sampleQuiz(), "host")) {
		t.Fatalf("add should fall back to the local map")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		store.Add(app.NewSession("SLOW0001", sampleQuiz(), "host"))
	}()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	for i := 0; i < 100; i++ {
		if _, ok := store.Get("LIVE0002"); !ok {
			t.Fatalf("expected session to be found")
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("lookups waited on redis: %v", elapsed)
	}
	wg.Wait()
}

// stalledListener accepts connections and never writes a reply.
func stalledListener(t *testing.T) (string, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	return ln.Addr().String(), func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range conns {
			_ = conn.Close()
		}
	}
}
