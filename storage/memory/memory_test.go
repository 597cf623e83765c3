package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/giantswarm/oidc-provider/instrumentation"
	"github.com/giantswarm/oidc-provider/internal/testutil"
	"github.com/giantswarm/oidc-provider/storage"
)

func newTestStore(t *testing.T) (*Store, *testutil.MockTime) {
	t.Helper()
	store := New()
	clock := testutil.NewMockTime(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	store.SetClock(clock.Now)
	t.Cleanup(func() { store.Stop() })
	return store, clock
}

func codeAt(clock *testutil.MockTime, ttl time.Duration) *storage.AuthorizationCode {
	code := testutil.GenerateTestAuthorizationCode()
	code.CreatedAt = clock.Now()
	code.ExpiresAt = clock.Now().Add(ttl)
	return code
}

// ============================================================
// CodeStore Tests
// ============================================================

func TestStore_SaveAndConsume(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)
	code := codeAt(clock, 10*time.Minute)

	if err := store.Save(ctx, code); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Consume(ctx, code.Code)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if got.ClientID != code.ClientID || got.UserID != code.UserID || got.Nonce != code.Nonce {
		t.Errorf("Consume() = %+v, want record for %+v", got, code)
	}

	if _, err := store.Consume(ctx, code.Code); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("second Consume() error = %v, want ErrCodeNotFound", err)
	}
}

func TestStore_Save_Invalid(t *testing.T) {
	store, _ := newTestStore(t)

	if err := store.Save(context.Background(), nil); err == nil {
		t.Error("Save(nil) should fail")
	}
	if err := store.Save(context.Background(), &storage.AuthorizationCode{}); err == nil {
		t.Error("Save() with empty code should fail")
	}
}

func TestStore_Save_Collision(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)
	code := codeAt(clock, time.Minute)

	if err := store.Save(ctx, code); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(ctx, code); !errors.Is(err, storage.ErrCodeCollision) {
		t.Errorf("duplicate Save() error = %v, want ErrCodeCollision", err)
	}
}

func TestStore_Save_CopiesRecord(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)
	code := codeAt(clock, time.Minute)

	if err := store.Save(ctx, code); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	code.ClientID = "mutated"

	got, err := store.Consume(ctx, code.Code)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if got.ClientID != testutil.AcmeClientID {
		t.Errorf("stored record was mutated through caller pointer: client_id = %q", got.ClientID)
	}
}

func TestStore_Consume_Expired(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)
	code := codeAt(clock, 10*time.Minute)

	if err := store.Save(ctx, code); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	clock.Advance(10 * time.Minute)

	if _, err := store.Consume(ctx, code.Code); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Fatalf("Consume() of expired code error = %v, want ErrCodeNotFound", err)
	}
	if n := store.codesCount.Load(); n != 0 {
		t.Errorf("expired code should be removed on Consume, %d left", n)
	}

	// moving the clock back must not resurrect it
	clock.Advance(-5 * time.Minute)
	if _, err := store.Consume(ctx, code.Code); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("Consume() after expiry removal error = %v, want ErrCodeNotFound", err)
	}
}

func TestStore_Consume_Unknown(t *testing.T) {
	store, _ := newTestStore(t)

	if _, err := store.Consume(context.Background(), "never-issued"); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("Consume() error = %v, want ErrCodeNotFound", err)
	}
}

func TestStore_Consume_ConcurrentExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)
	code := codeAt(clock, 10*time.Minute)

	if err := store.Save(ctx, code); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	const workers = 64
	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		winners  atomic.Int32
		notFound atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := store.Consume(ctx, code.Code)
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, storage.ErrCodeNotFound):
				notFound.Add(1)
			default:
				t.Errorf("unexpected Consume() error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if winners.Load() != 1 {
		t.Errorf("successful Consume() calls = %d, want exactly 1", winners.Load())
	}
	if notFound.Load() != workers-1 {
		t.Errorf("ErrCodeNotFound results = %d, want %d", notFound.Load(), workers-1)
	}
}

func TestStore_Sweep(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)

	short := codeAt(clock, time.Minute)
	long := codeAt(clock, time.Hour)
	for _, c := range []*storage.AuthorizationCode{short, long} {
		if err := store.Save(ctx, c); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	if err := store.SaveSession(ctx, &storage.Session{ID: "s-old", UserID: "u1", ExpiresAt: clock.Now().Add(time.Minute)}); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	clock.Advance(2 * time.Minute)

	removed, err := store.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Sweep() removed %d codes, want 1", removed)
	}
	if store.codesCount.Load() != 1 {
		t.Errorf("codes left = %d, want 1", store.codesCount.Load())
	}
	if store.sessionsCount.Load() != 0 {
		t.Errorf("expired session should be swept, %d left", store.sessionsCount.Load())
	}

	if _, err := store.Consume(ctx, long.Code); err != nil {
		t.Errorf("unexpired code should survive Sweep: %v", err)
	}
}

func TestStore_SweepConcurrentWithConsume(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)

	codes := make([]*storage.AuthorizationCode, 200)
	for i := range codes {
		ttl := time.Hour
		if i%2 == 0 {
			ttl = time.Second
		}
		codes[i] = codeAt(clock, ttl)
		if err := store.Save(ctx, codes[i]); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	clock.Advance(time.Minute)

	var consumed atomic.Int32
	var wg sync.WaitGroup
	for _, c := range codes {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			if _, err := store.Consume(ctx, code); err == nil {
				consumed.Add(1)
			}
		}(c.Code)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = store.Sweep(ctx)
	}()
	wg.Wait()

	if consumed.Load() != 100 {
		t.Errorf("consumed %d live codes, want 100", consumed.Load())
	}
	if store.codesCount.Load() != 0 {
		t.Errorf("codes left = %d, want 0", store.codesCount.Load())
	}
}

func TestNewWithInterval_Default(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()

	if store.sweepInterval != DefaultSweepInterval {
		t.Errorf("sweepInterval = %v, want %v", store.sweepInterval, DefaultSweepInterval)
	}
}

func TestStore_BackgroundSweep(t *testing.T) {
	ctx := context.Background()
	store := NewWithInterval(10 * time.Millisecond)
	defer store.Stop()

	code := testutil.GenerateTestAuthorizationCode()
	code.ExpiresAt = time.Now().Add(-time.Second)
	if err := store.Save(ctx, code); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.codesCount.Load() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("background sweep did not remove the expired code")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStore_StopTwice(t *testing.T) {
	store := New()
	store.Stop()
	store.Stop()
}

// ============================================================
// SessionStore Tests
// ============================================================

func TestStore_Sessions(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)

	session := &storage.Session{
		ID:        "session-1",
		UserID:    testutil.TestUserID,
		CreatedAt: clock.Now(),
		ExpiresAt: clock.Now().Add(time.Hour),
	}
	if err := store.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	got, err := store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.UserID != testutil.TestUserID {
		t.Errorf("UserID = %q, want %q", got.UserID, testutil.TestUserID)
	}

	clock.Advance(2 * time.Hour)
	if _, err := store.GetSession(ctx, session.ID); !errors.Is(err, storage.ErrSessionNotFound) {
		t.Errorf("GetSession() after expiry error = %v, want ErrSessionNotFound", err)
	}

	if err := store.DeleteSession(ctx, session.ID); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if err := store.DeleteSession(ctx, "unknown"); err != nil {
		t.Errorf("DeleteSession() of unknown session error = %v", err)
	}
	if store.sessionsCount.Load() != 0 {
		t.Errorf("sessions left = %d, want 0", store.sessionsCount.Load())
	}
}

func TestStore_SaveSession_Invalid(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.SaveSession(context.Background(), &storage.Session{}); err == nil {
		t.Error("SaveSession() without id should fail")
	}
}

// ============================================================
// Instrumentation Tests
// ============================================================

func TestStore_Instrumentation(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true, MetricReader: reader})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(ctx) })

	store, clock := newTestStore(t)
	store.SetInstrumentation(inst)

	code := codeAt(clock, time.Minute)
	if err := store.Save(ctx, code); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	var sawOps, sawGauge bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "oidc.storage.operations.total":
				sawOps = true
			case "oidc.storage.codes.count":
				gauge, ok := m.Data.(metricdata.Gauge[int64])
				if !ok || len(gauge.DataPoints) == 0 {
					t.Fatalf("codes.count has unexpected data %T", m.Data)
				}
				if gauge.DataPoints[0].Value != 1 {
					t.Errorf("codes.count = %d, want 1", gauge.DataPoints[0].Value)
				}
				sawGauge = true
			}
		}
	}
	if !sawOps {
		t.Error("storage operation counter was not recorded")
	}
	if !sawGauge {
		t.Error("codes gauge was not observed")
	}
}
