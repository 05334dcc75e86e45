package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

func TestKeyLimiter_Burst(t *testing.T) {
	l := New(1, 2, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if !l.Allow("alice", now) || !l.Allow("alice", now) {
		t.Fatal("burst of 2 not allowed")
	}
	if l.Allow("alice", now) {
		t.Error("third call within the same instant allowed")
	}
	if !l.Allow("bob", now) {
		t.Error("bob throttled by alice's bucket")
	}
	if !l.Allow("alice", now.Add(time.Second)) {
		t.Error("token not refilled after one second")
	}
}

func TestKeyLimiter_EvictsIdle(t *testing.T) {
	l := New(10, 1, time.Minute)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.Allow("stale", start)

	later := start.Add(time.Hour)
	for i := 0; i < sweepEvery; i++ {
		l.Allow(fmt.Sprintf("k%d", i%4), later)
	}
	if got := l.Len(); got != 4 {
		t.Errorf("Len() = %d, want 4 after sweep", got)
	}
}

func TestKeyLimiter_Disabled(t *testing.T) {
	var l *KeyLimiter = New(0, 0, 0)
	if l != nil {
		t.Fatal("New() with zero rate returned a limiter")
	}
	for i := 0; i < 100; i++ {
		if !l.Allow("x", time.Now()) {
			t.Fatal("nil limiter throttled")
		}
	}
}
