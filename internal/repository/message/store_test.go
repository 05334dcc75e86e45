package message

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"secure_drop/internal/model"
	redisSvc "secure_drop/internal/service/redis"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type backendFactory struct {
	name string
	open func(t *testing.T) Backend
}

func backends() []backendFactory {
	return []backendFactory{
		{"file", func(t *testing.T) Backend {
			b, err := NewFileBackend(t.TempDir())
			if err != nil {
				t.Fatal(err)
			}
			return b
		}},
		{"sqlite", func(t *testing.T) Backend {
			b, err := OpenSQLite(filepath.Join(t.TempDir(), "messages.db"))
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { _ = b.Close() })
			return b
		}},
		{"mongo", openMongo},
		{"redis", openRedis},
	}
}

func openMongo(t *testing.T) Backend {
	uri := os.Getenv("SECUREDROP_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("SECUREDROP_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		t.Fatal(err)
	}
	db := client.Database(fmt.Sprintf("securedrop_test_%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})
	return NewMongoBackend(db)
}

func openRedis(t *testing.T) Backend {
	addr := os.Getenv("SECUREDROP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SECUREDROP_TEST_REDIS_ADDR not set")
	}
	svc := redisSvc.NewRedis(redis.NewClient(&redis.Options{Addr: addr, DB: 15}))
	if err := svc.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
	b := NewRedisBackend(svc)
	t.Cleanup(func() {
		_, _ = b.RemoveAll(context.Background())
		_ = b.Close()
	})
	return b
}

func testMessage(expiry time.Time) *model.StoredMessage {
	return &model.StoredMessage{
		Envelope: &model.SealedEnvelope{
			Ciphertext: []byte("ciphertext"),
			Nonce:      bytes.Repeat([]byte{1}, 12),
			AuthTag:    bytes.Repeat([]byte{2}, 16),
			WrappedKey: bytes.Repeat([]byte{3}, 256),
			MAC:        bytes.Repeat([]byte{4}, 32),
		},
		ReadOnce:  true,
		ExpiryUTC: expiry,
	}
}

func TestStore(t *testing.T) {
	for _, bf := range backends() {
		bf := bf
		t.Run(bf.name, func(t *testing.T) {
			t.Run("empty slot", func(t *testing.T) {
				s := NewStore(bf.open(t))
				msg, err := s.Get(context.Background(), "nobody", baseTime)
				if err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				if msg != nil {
					t.Errorf("Get() = %+v, want nil", msg)
				}
			})

			t.Run("put then get", func(t *testing.T) {
				s := NewStore(bf.open(t))
				ctx := context.Background()
				want := testMessage(baseTime.Add(10 * time.Minute))

				res, err := s.Put(ctx, "alice", want, baseTime)
				if err != nil {
					t.Fatalf("Put() error = %v", err)
				}
				if res.Replaced || res.ExpiredPurged {
					t.Errorf("Put() on empty slot = %+v", res)
				}

				got, err := s.Get(ctx, "alice", baseTime)
				if err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				if got == nil {
					t.Fatal("Get() = nil after Put()")
				}
				if !bytes.Equal(got.Envelope.Ciphertext, want.Envelope.Ciphertext) ||
					!bytes.Equal(got.Envelope.Nonce, want.Envelope.Nonce) ||
					!bytes.Equal(got.Envelope.AuthTag, want.Envelope.AuthTag) ||
					!bytes.Equal(got.Envelope.WrappedKey, want.Envelope.WrappedKey) ||
					!bytes.Equal(got.Envelope.MAC, want.Envelope.MAC) {
					t.Errorf("envelope mismatch: got %+v", got.Envelope)
				}
				if !got.ReadOnce {
					t.Error("ReadOnce lost")
				}
				// mongo keeps millisecond precision
				if !got.ExpiryUTC.Truncate(time.Millisecond).Equal(want.ExpiryUTC.Truncate(time.Millisecond)) {
					t.Errorf("ExpiryUTC = %v, want %v", got.ExpiryUTC, want.ExpiryUTC)
				}

				// reading does not consume
				if again, err := s.Get(ctx, "alice", baseTime); err != nil || again == nil {
					t.Errorf("second Get() = %v, %v", again, err)
				}
			})

			t.Run("overwrite", func(t *testing.T) {
				s := NewStore(bf.open(t))
				ctx := context.Background()

				if _, err := s.Put(ctx, "alice", testMessage(baseTime.Add(time.Minute)), baseTime); err != nil {
					t.Fatal(err)
				}
				second := testMessage(baseTime.Add(time.Hour))
				second.Envelope.Ciphertext = []byte("second")

				res, err := s.Put(ctx, "alice", second, baseTime)
				if err != nil {
					t.Fatal(err)
				}
				if !res.Replaced || res.ExpiredPurged {
					t.Errorf("Put() = %+v, want Replaced", res)
				}

				got, err := s.Get(ctx, "alice", baseTime)
				if err != nil {
					t.Fatal(err)
				}
				if string(got.Envelope.Ciphertext) != "second" {
					t.Errorf("Ciphertext = %q, want last writer", got.Envelope.Ciphertext)
				}
			})

			t.Run("expired on get", func(t *testing.T) {
				s := NewStore(bf.open(t))
				ctx := context.Background()

				if _, err := s.Put(ctx, "bob", testMessage(baseTime), baseTime); err != nil {
					t.Fatal(err)
				}
				// valid exactly at expiry
				if msg, err := s.Get(ctx, "bob", baseTime); err != nil || msg == nil {
					t.Fatalf("Get() at expiry = %v, %v", msg, err)
				}

				_, err := s.Get(ctx, "bob", baseTime.Add(time.Second))
				if !errors.Is(err, ErrExpired) {
					t.Fatalf("Get() after expiry error = %v, want ErrExpired", err)
				}

				msg, err := s.Get(ctx, "bob", baseTime.Add(time.Second))
				if err != nil || msg != nil {
					t.Errorf("slot not empty after expiry: %v, %v", msg, err)
				}
			})

			t.Run("expired on put", func(t *testing.T) {
				s := NewStore(bf.open(t))
				ctx := context.Background()

				if _, err := s.Put(ctx, "bob", testMessage(baseTime.Add(-time.Minute)), baseTime.Add(-2*time.Minute)); err != nil {
					t.Fatal(err)
				}
				res, err := s.Put(ctx, "bob", testMessage(baseTime.Add(time.Minute)), baseTime)
				if err != nil {
					t.Fatal(err)
				}
				if !res.ExpiredPurged || res.Replaced {
					t.Errorf("Put() = %+v, want ExpiredPurged", res)
				}
			})

			t.Run("delete is idempotent", func(t *testing.T) {
				s := NewStore(bf.open(t))
				ctx := context.Background()

				if err := s.Delete(ctx, "carol"); err != nil {
					t.Errorf("Delete() on empty slot error = %v", err)
				}
				if _, err := s.Put(ctx, "carol", testMessage(baseTime.Add(time.Minute)), baseTime); err != nil {
					t.Fatal(err)
				}
				if err := s.Delete(ctx, "carol"); err != nil {
					t.Fatal(err)
				}
				if msg, err := s.Get(ctx, "carol", baseTime); err != nil || msg != nil {
					t.Errorf("Get() after Delete() = %v, %v", msg, err)
				}
			})

			t.Run("purge", func(t *testing.T) {
				s := NewStore(bf.open(t))
				ctx := context.Background()

				for _, id := range []string{"a", "b", "c"} {
					if _, err := s.Put(ctx, id, testMessage(baseTime.Add(time.Minute)), baseTime); err != nil {
						t.Fatal(err)
					}
				}
				n, err := s.Purge(ctx)
				if err != nil {
					t.Fatal(err)
				}
				if n != 3 {
					t.Errorf("Purge() = %d, want 3", n)
				}
				if msg, _ := s.Get(ctx, "a", baseTime); msg != nil {
					t.Error("slot survived Purge()")
				}
			})

			t.Run("invalid recipient", func(t *testing.T) {
				s := NewStore(bf.open(t))
				_, err := s.Put(context.Background(), "../x", testMessage(baseTime), baseTime)
				if !errors.Is(err, model.ErrInvalidRecipient) {
					t.Errorf("Put() error = %v, want ErrInvalidRecipient", err)
				}
			})
		})
	}
}

func TestFileBackend_RecordLayout(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	s := NewStore(b)
	if _, err := s.Put(context.Background(), "alice", testMessage(baseTime), baseTime); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "alice.msg"))
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{`"message"`, `"ciphertext"`, `"nonce"`, `"authTag"`, `"wrappedKey"`, `"mac"`, `"readOnce":true`, `"expiryUtc":"2026-03-01T12:00:00Z"`} {
		if !bytes.Contains(raw, []byte(field)) {
			t.Errorf("record missing %s: %s", field, raw)
		}
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, ".tmp-*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestFileBackend_CorruptRecord(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "alice.msg"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewStore(b)
	if _, err := s.Get(context.Background(), "alice", baseTime); !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("Get() error = %v, want ErrCorruptRecord", err)
	}

	// a fresh send may still overwrite the unreadable slot
	if _, err := s.Put(context.Background(), "alice", testMessage(baseTime.Add(time.Minute)), baseTime); err != nil {
		t.Errorf("Put() over corrupt record error = %v", err)
	}
}

func TestStore_LockSlot(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := NewStore(b)

	unlock, err := s.LockSlot(context.Background(), "alice")
	if err != nil {
		t.Fatalf("LockSlot() error = %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		u, err := s.LockSlot(context.Background(), "alice")
		if err == nil {
			u()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second LockSlot() did not wait")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second LockSlot() never acquired")
	}

	if _, err := s.LockSlot(context.Background(), ""); !errors.Is(err, model.ErrInvalidRecipient) {
		t.Errorf("LockSlot(\"\") error = %v", err)
	}
}
