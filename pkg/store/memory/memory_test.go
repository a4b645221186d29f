package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/nimburion/jobqueue/pkg/store"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestStore_PopEmpty(t *testing.T) {
	s := New()
	if _, err := s.PopReady(context.Background(), "default"); !errors.Is(err, store.ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestStore_FIFOAndQueueIsolation(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, item := range []string{"a", "b", "c"} {
		if err := s.PushReady(ctx, "emails", []byte(item)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if err := s.PushReady(ctx, "reports", []byte("r")); err != nil {
		t.Fatalf("push: %v", err)
	}

	for _, want := range []string{"a", "b", "c"} {
		got, err := s.PopReady(ctx, "emails")
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if string(got) != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
	if _, err := s.PopReady(ctx, "emails"); !errors.Is(err, store.ErrEmpty) {
		t.Fatalf("expected emails to be drained, got %v", err)
	}
	got, err := s.PopReady(ctx, "reports")
	if err != nil || string(got) != "r" {
		t.Fatalf("expected reports entry, got %q err=%v", got, err)
	}
}

func TestStore_PromoteDueOrdering(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	_ = s.AddDelayed(ctx, "q", []byte("late"), base.Add(2*time.Minute))
	_ = s.AddDelayed(ctx, "q", []byte("tie-1"), base.Add(time.Minute))
	_ = s.AddDelayed(ctx, "q", []byte("early"), base)
	_ = s.AddDelayed(ctx, "q", []byte("tie-2"), base.Add(time.Minute))

	moved, err := s.PromoteDue(ctx, "q", base.Add(59*time.Second))
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected 1 promoted, got %d", moved)
	}

	moved, err = s.PromoteDue(ctx, "q", base.Add(time.Minute))
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if moved != 2 {
		t.Fatalf("expected 2 promoted, got %d", moved)
	}

	for _, want := range []string{"early", "tie-1", "tie-2"} {
		got, err := s.PopReady(ctx, "q")
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if string(got) != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
	ready, delayed := s.Len("q")
	if ready != 0 || delayed != 1 {
		t.Fatalf("expected 0 ready and 1 delayed, got %d/%d", ready, delayed)
	}
}

func TestStore_PromotedEntriesFollowReadyEntries(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	_ = s.PushReady(ctx, "q", []byte("ready"))
	_ = s.AddDelayed(ctx, "q", []byte("delayed"), now.Add(-time.Second))
	if _, err := s.PromoteDue(ctx, "q", now); err != nil {
		t.Fatalf("promote: %v", err)
	}

	first, _ := s.PopReady(ctx, "q")
	second, _ := s.PopReady(ctx, "q")
	if string(first) != "ready" || string(second) != "delayed" {
		t.Fatalf("unexpected order: %q, %q", first, second)
	}
}

func TestStore_StatusTTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(WithClock(clock.Now))

	if err := s.SetStatus(ctx, "job-1", []byte(`{"status":"processing"}`), time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, err := s.GetStatus(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != `{"status":"processing"}` {
		t.Fatalf("unexpected value %s", value)
	}

	clock.now = clock.now.Add(time.Hour)
	if _, err := s.GetStatus(ctx, "job-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected expired status, got %v", err)
	}
	if _, err := s.GetStatus(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_PayloadIsCopied(t *testing.T) {
	ctx := context.Background()
	s := New()
	payload := []byte("original")
	_ = s.PushReady(ctx, "q", payload)
	payload[0] = 'X'

	got, _ := s.PopReady(ctx, "q")
	if string(got) != "original" {
		t.Fatalf("expected stored copy, got %q", got)
	}
}

func TestStore_Closed(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.PushReady(ctx, "q", []byte("a"))
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.PushReady(ctx, "q", []byte("b")); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("expected ErrClosed on push, got %v", err)
	}
	if _, err := s.PopReady(ctx, "q"); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("expected ErrClosed on pop, got %v", err)
	}
	if err := s.HealthCheck(ctx); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("expected ErrClosed on health check, got %v", err)
	}
}

func TestStore_FIFOProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("pops return pushes in order", prop.ForAll(
		func(count int) bool {
			ctx := context.Background()
			s := New()
			for i := 0; i < count; i++ {
				if err := s.PushReady(ctx, "q", []byte(fmt.Sprintf("item-%d", i))); err != nil {
					return false
				}
			}
			for i := 0; i < count; i++ {
				got, err := s.PopReady(ctx, "q")
				if err != nil || string(got) != fmt.Sprintf("item-%d", i) {
					return false
				}
			}
			_, err := s.PopReady(ctx, "q")
			return errors.Is(err, store.ErrEmpty)
		},
		gen.IntRange(0, 50),
	))

	properties.Property("promotion yields schedule order with insertion tie-break", prop.ForAll(
		func(offsets []int) bool {
			ctx := context.Background()
			s := New()
			base := time.Unix(1_700_000_000, 0)
			for i, offset := range offsets {
				at := base.Add(time.Duration(offset) * time.Second)
				if err := s.AddDelayed(ctx, "q", []byte(fmt.Sprintf("%03d:%d", offset, i)), at); err != nil {
					return false
				}
			}
			moved, err := s.PromoteDue(ctx, "q", base.Add(time.Hour))
			if err != nil || moved != len(offsets) {
				return false
			}
			prevOffset, prevIndex := -1, -1
			for range offsets {
				raw, err := s.PopReady(ctx, "q")
				if err != nil {
					return false
				}
				var offset, index int
				if _, err := fmt.Sscanf(string(raw), "%d:%d", &offset, &index); err != nil {
					return false
				}
				if offset < prevOffset || (offset == prevOffset && index < prevIndex) {
					return false
				}
				prevOffset, prevIndex = offset, index
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 10)),
	))

	properties.TestingRun(t)
}
