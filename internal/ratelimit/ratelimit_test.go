package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_AllowsUpToRate(t *testing.T) {
	l := New(5, time.Minute)
	for i := 0; i < 5; i++ {
		if !l.Allow() {
			t.Fatalf("event %d should be allowed", i+1)
		}
	}
	if l.Allow() {
		t.Fatal("6th event should be denied")
	}
}

func TestLimiter_ResetsAfterWindow(t *testing.T) {
	l := New(2, time.Second)
	clock := time.Now()
	l.now = func() time.Time { return clock }
	l.windowStart = clock

	l.Allow()
	l.Allow()
	if l.Allow() {
		t.Fatal("3rd should be denied")
	}
	clock = clock.Add(2 * time.Second)
	if !l.Allow() {
		t.Fatal("after window reset should be allowed")
	}
}

func TestLimiter_ZeroRateUnlimited(t *testing.T) {
	l := New(0, time.Second)
	for i := 0; i < 1000; i++ {
		if !l.Allow() {
			t.Fatal("zero rate should not limit")
		}
	}
}

func TestKeyed_IndependentKeys(t *testing.T) {
	k := NewKeyed(2, time.Minute)
	if !k.Allow("10.0.0.1") || !k.Allow("10.0.0.1") {
		t.Fatal("first two events should pass")
	}
	if k.Allow("10.0.0.1") {
		t.Fatal("third event for same key should be denied")
	}
	if !k.Allow("10.0.0.2") {
		t.Fatal("other key should have its own window")
	}
}

func TestKeyed_Prune(t *testing.T) {
	k := NewKeyed(1, time.Second)
	clock := time.Now()
	k.now = func() time.Time { return clock }

	k.Allow("a")
	k.Allow("b")
	if k.Len() != 2 {
		t.Fatalf("len = %d", k.Len())
	}
	clock = clock.Add(500 * time.Millisecond)
	k.Allow("c")
	clock = clock.Add(700 * time.Millisecond)

	if n := k.Prune(); n != 2 {
		t.Fatalf("pruned %d, want 2", n)
	}
	if k.Len() != 1 {
		t.Fatalf("len after prune = %d", k.Len())
	}
	if k.Allow("c") {
		t.Fatal("c is still inside its window and over the limit")
	}
}
