package storage

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// testRedis connects to the server named by TAKEDAT_TEST_REDIS and isolates
// the test under a unique key prefix.
func testRedis(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("TAKEDAT_TEST_REDIS")
	if addr == "" {
		t.Skip("TAKEDAT_TEST_REDIS not set")
	}
	r, err := NewRedisStore(addr)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	r.prefix = "takedat:test:" + uuid.NewString() + ":"
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRedisStore_SessionCRUD(t *testing.T) {
	r := testRedis(t)
	want := sampleSession("ABC-123", time.Now())
	if err := r.CreateSession(want); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	t.Cleanup(func() { r.DeleteSession("ABC-123") })

	got, err := r.GetSession("ABC-123")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.ID != want.ID || got.FileSize != want.FileSize || got.ExpiresAt != want.ExpiresAt || string(got.OwnerHash) != string(want.OwnerHash) {
		t.Fatalf("GetSession = %+v, want %+v", got, want)
	}

	if err := r.UpdateStatus("ABC-123", "transferring"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, _ = r.GetSession("ABC-123")
	if got.Status != "transferring" {
		t.Fatalf("status = %q", got.Status)
	}

	dup := sampleSession("ABC-123", time.Now())
	if err := r.CreateSession(dup); !errors.Is(err, ErrCodeTaken) {
		t.Fatalf("duplicate err = %v", err)
	}

	ttl, err := r.client.TTL(r.key("ABC-123")).Result()
	if err != nil || ttl <= 10*time.Minute {
		t.Fatalf("ttl = %v (%v), want expiry plus grace", ttl, err)
	}

	if err := r.DeleteSession("ABC-123"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := r.GetSession("ABC-123"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSession after delete = %v", err)
	}
	if err := r.UpdateStatus("ABC-123", "paired"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateStatus on missing = %v", err)
	}
}
