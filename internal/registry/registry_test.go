package registry

import (
	"testing"
	"time"

	"github.com/avshare/termrelay/internal/events"
	"github.com/avshare/termrelay/internal/session"
)

func testRegistry(t *testing.T, maxAge time.Duration) *Registry {
	t.Helper()
	bus, err := events.NewBus("")
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	cfg := session.DefaultConfig()
	cfg.ReconnectWindow = 20 * time.Millisecond
	r := New(bus, cfg, maxAge, 4)
	t.Cleanup(r.Shutdown)
	return r
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	r := testRegistry(t, time.Hour)
	s1, created1 := r.GetOrCreate("sess-1")
	if !created1 {
		t.Fatal("expected created=true on first call")
	}
	s2, created2 := r.GetOrCreate("sess-1")
	if created2 {
		t.Fatal("expected created=false on second call")
	}
	if s1 != s2 {
		t.Fatal("GetOrCreate returned different sessions for the same id")
	}
}

func TestRingRecordsClosedSessions(t *testing.T) {
	r := testRegistry(t, time.Hour)
	s, _ := r.GetOrCreate("sess-1")
	s.Close(session.CloseGraceful)

	if _, ok := r.Get("sess-1"); ok {
		t.Fatal("closed session still present in the live map")
	}
	records := r.RecentlyClosed()
	if len(records) != 1 || records[0].ID != "sess-1" || records[0].Reason != session.CloseGraceful {
		t.Fatalf("records = %+v", records)
	}
}

func TestRingIsBounded(t *testing.T) {
	r := testRegistry(t, time.Hour)
	for i := 0; i < 6; i++ {
		s, _ := r.GetOrCreate(string(rune('a' + i)))
		s.Close(session.CloseGraceful)
	}
	records := r.RecentlyClosed()
	if len(records) != 4 {
		t.Fatalf("ring size = %d, want 4", len(records))
	}
}

func TestSweepClosesStaleSessions(t *testing.T) {
	r := testRegistry(t, 10*time.Millisecond)
	r.GetOrCreate("sess-1")

	time.Sleep(20 * time.Millisecond)
	r.sweep()

	if _, ok := r.Get("sess-1"); ok {
		t.Fatal("stale session not swept")
	}
}
