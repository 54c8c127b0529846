package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(rdb, zerolog.Nop()), mr
}

func TestIssueAndValidate(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	key, err := s.Issue(ctx, "acme-payments", 30)
	if err != nil {
		t.Fatal(err)
	}
	if key == "" {
		t.Fatal("issued key is empty")
	}

	ok, err := s.Validate(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("freshly issued key rejected")
	}

	meta, found, err := s.Lookup(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("metadata missing for issued key")
	}
	if meta.Owner != "acme-payments" || meta.TTLDays != 30 || meta.Revoked {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
}

func TestIssueRequiresOwner(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.Issue(context.Background(), "", 30); err == nil {
		t.Fatal("expected error for empty owner")
	}
}

func TestIssueDefaultsTTL(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	key, err := s.Issue(ctx, "acme", 0)
	if err != nil {
		t.Fatal(err)
	}
	meta, _, err := s.Lookup(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if meta.TTLDays != 365 {
		t.Fatalf("ttl_days = %d, want 365", meta.TTLDays)
	}
}

func TestValidateUnknownKey(t *testing.T) {
	s, _ := newTestStore(t)

	ok, err := s.Validate(context.Background(), "nonexistent")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("unknown key accepted")
	}
}

func TestValidateEmptyKey(t *testing.T) {
	s, _ := newTestStore(t)

	ok, err := s.Validate(context.Background(), "")
	if err != nil || ok {
		t.Fatalf("empty key must be rejected cleanly, got ok=%v err=%v", ok, err)
	}
}

func TestRevokedKeyRejected(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	key, err := s.Issue(ctx, "acme", 30)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Revoke(ctx, key); err != nil {
		t.Fatal(err)
	}

	ok, err := s.Validate(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("revoked key accepted")
	}

	meta, _, err := s.Lookup(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if !meta.Revoked {
		t.Fatal("metadata not marked revoked")
	}
}

func TestExpiredKeyRejected(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	issued := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return issued }

	key, err := s.Issue(ctx, "acme", 1)
	if err != nil {
		t.Fatal(err)
	}

	// Just inside the lifetime.
	s.now = func() time.Time { return issued.Add(23 * time.Hour) }
	if ok, _ := s.Validate(ctx, key); !ok {
		t.Fatal("key rejected inside its lifetime")
	}

	// Past the one-day lifetime.
	s.now = func() time.Time { return issued.Add(25 * time.Hour) }
	if ok, _ := s.Validate(ctx, key); ok {
		t.Fatal("key accepted past its lifetime")
	}
}

func TestValidateRecordsUsage(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	key, err := s.Issue(ctx, "acme", 30)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if ok, err := s.Validate(ctx, key); err != nil || !ok {
			t.Fatalf("validate %d failed: ok=%v err=%v", i, ok, err)
		}
	}

	meta, _, err := s.Lookup(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if meta.UsageCount != 3 {
		t.Fatalf("usage_count = %d, want 3", meta.UsageCount)
	}
	if meta.LastUsed.IsZero() || meta.LastUsed.Unix() == 0 {
		t.Fatal("last_used not recorded")
	}
}

func TestIssuedKeysAreUnique(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		key, err := s.Issue(ctx, "acme", 30)
		if err != nil {
			t.Fatal(err)
		}
		if _, dup := seen[key]; dup {
			t.Fatalf("duplicate key issued: %s", key)
		}
		seen[key] = struct{}{}
	}
}
