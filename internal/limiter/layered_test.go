package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLayered(t *testing.T, policy Policy) *Layered {
	t.Helper()

	buckets, _ := newTestLimiter(t, Options{BurstMultiplier: 1.0})
	clock := time.Unix(1_700_000_000, 0)
	buckets.now = func() time.Time { return clock }

	return NewLayered(buckets, policy, zerolog.Nop())
}

func TestLayeredAllowsWithinLimits(t *testing.T) {
	l := newTestLayered(t, Policy{KeyRPM: 10, IPRPM: 10, EndpointRPM: 10, GlobalRPM: 100})

	res, err := l.Allow(context.Background(), Request{APIKey: "k1", OriginIP: "1.2.3.4", Endpoint: "/v1/charges"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Allowed {
		t.Fatal("expected admission")
	}
	if res.BlockedBy != "" {
		t.Fatalf("allowed result should not name a layer, got %q", res.BlockedBy)
	}
}

func TestLayeredReportsFirstBlockingLayer(t *testing.T) {
	ctx := context.Background()

	// Credential layer is the tightest: it must be the one reported.
	l := newTestLayered(t, Policy{KeyRPM: 1, IPRPM: 10, EndpointRPM: 10, GlobalRPM: 100})
	req := Request{APIKey: "k1", OriginIP: "1.2.3.4", Endpoint: "/v1/charges"}

	if res, _ := l.Allow(ctx, req); !res.Allowed {
		t.Fatal("first call should pass")
	}
	res, err := l.Allow(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed {
		t.Fatal("second call should be denied")
	}
	if res.BlockedBy != LayerKey {
		t.Fatalf("expected api_key layer, got %q", res.BlockedBy)
	}
}

func TestLayeredIPDenialConsumesKeyToken(t *testing.T) {
	ctx := context.Background()

	l := newTestLayered(t, Policy{KeyRPM: 5, IPRPM: 1, EndpointRPM: 10, GlobalRPM: 100})
	req := Request{APIKey: "k1", OriginIP: "9.9.9.9", Endpoint: "/v1/charges"}

	if res, _ := l.Allow(ctx, req); !res.Allowed {
		t.Fatal("first call should pass")
	}

	res, err := l.Allow(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed || res.BlockedBy != LayerIP {
		t.Fatalf("expected ip layer denial, got %+v", res)
	}

	// The credential bucket was still charged for both attempts.
	d, err := l.buckets.Allow(ctx, "key:k1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if d.Remaining != 2 {
		t.Fatalf("expected 2 key tokens left (5 - 2 attempts - this probe), got %d", d.Remaining)
	}
}

func TestLayeredKeyRPMOverride(t *testing.T) {
	ctx := context.Background()

	l := newTestLayered(t, Policy{KeyRPM: 1, IPRPM: 10, EndpointRPM: 10, GlobalRPM: 100})
	req := Request{APIKey: "vip", OriginIP: "2.2.2.2", Endpoint: "/v1/charges", KeyRPM: 3}

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, req)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Allowed {
			t.Fatalf("call %d should pass under the override", i+1)
		}
	}

	res, _ := l.Allow(ctx, req)
	if res.Allowed || res.BlockedBy != LayerKey {
		t.Fatalf("expected key layer denial after override exhausted, got %+v", res)
	}
}

func TestLayeredGlobalDenial(t *testing.T) {
	ctx := context.Background()

	l := newTestLayered(t, Policy{KeyRPM: 10, IPRPM: 10, EndpointRPM: 10, GlobalRPM: 1})

	first := Request{APIKey: "a", OriginIP: "1.1.1.1", Endpoint: "/v1/charges"}
	second := Request{APIKey: "b", OriginIP: "2.2.2.2", Endpoint: "/v1/quote"}

	if res, _ := l.Allow(ctx, first); !res.Allowed {
		t.Fatal("first call should pass")
	}
	res, err := l.Allow(ctx, second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed || res.BlockedBy != LayerGlobal {
		t.Fatalf("expected global layer denial, got %+v", res)
	}
}
