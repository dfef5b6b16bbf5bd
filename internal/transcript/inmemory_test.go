package transcript

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryStoreRecentCalls(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := CallRecord{
			CallID:    string(rune('a' + i)),
			UserID:    "u1",
			Advisor:   "eleonora",
			ReplyMode: "talk",
			StartedAt: time.Now().Add(time.Duration(i) * time.Minute),
			EndedAt:   time.Now().Add(time.Duration(i)*time.Minute + 30*time.Second),
		}
		if err := s.SaveCall(ctx, rec); err != nil {
			t.Fatalf("save call: %v", err)
		}
	}

	got, err := s.RecentCalls(ctx, "u1", 3)
	if err != nil {
		t.Fatalf("recent calls: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	// Most recent last, and the window covers the tail of the history.
	if got[0].CallID != "c" || got[2].CallID != "e" {
		t.Fatalf("unexpected window: first=%s last=%s", got[0].CallID, got[2].CallID)
	}

	if recs, _ := s.RecentCalls(ctx, "nobody", 3); recs != nil {
		t.Fatalf("expected nil for unknown user, got %v", recs)
	}
}

func TestInMemoryStoreLimitLargerThanHistory(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	_ = s.SaveCall(ctx, CallRecord{CallID: "only", UserID: "u2"})

	got, err := s.RecentCalls(ctx, "u2", 50)
	if err != nil {
		t.Fatalf("recent calls: %v", err)
	}
	if len(got) != 1 || got[0].CallID != "only" {
		t.Fatalf("unexpected result: %v", got)
	}
}
