package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nimburion/jobqueue/pkg/observability/logger"
	"github.com/nimburion/jobqueue/pkg/store"
	"github.com/nimburion/jobqueue/pkg/testutil"
)

func TestStore_Integration(t *testing.T) {
	testutil.SkipIfShort(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("jobqueue"),
		tcpostgres.WithUsername("jobqueue"),
		tcpostgres.WithPassword("jobqueue"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate container: %v", err)
		}
	}()

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	s, err := NewStore(Config{URL: connStr, TablePrefix: "it", PromoteBatch: 2}, logger.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer s.Close()

	t.Run("FIFOAndIsolation", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			if err := s.PushReady(ctx, "a", []byte(fmt.Sprintf("a-%d", i))); err != nil {
				t.Fatalf("push: %v", err)
			}
		}
		if err := s.PushReady(ctx, "b", []byte("b-0")); err != nil {
			t.Fatalf("push: %v", err)
		}
		for i := 0; i < 3; i++ {
			got, err := s.PopReady(ctx, "a")
			if err != nil {
				t.Fatalf("pop: %v", err)
			}
			if want := fmt.Sprintf("a-%d", i); string(got) != want {
				t.Fatalf("expected %q, got %q", want, got)
			}
		}
		if _, err := s.PopReady(ctx, "a"); !errors.Is(err, store.ErrEmpty) {
			t.Fatalf("expected ErrEmpty, got %v", err)
		}
		if got, err := s.PopReady(ctx, "b"); err != nil || string(got) != "b-0" {
			t.Fatalf("expected b-0, got %q err=%v", got, err)
		}
	})

	t.Run("PromoteDueOrdering", func(t *testing.T) {
		base := time.Now().Add(-time.Minute)
		_ = s.AddDelayed(ctx, "d", []byte("second"), base.Add(time.Second))
		_ = s.AddDelayed(ctx, "d", []byte("first"), base)
		_ = s.AddDelayed(ctx, "d", []byte("third"), base.Add(time.Second))
		_ = s.AddDelayed(ctx, "d", []byte("future"), time.Now().Add(time.Hour))

		moved, err := s.PromoteDue(ctx, "d", time.Now())
		if err != nil {
			t.Fatalf("promote: %v", err)
		}
		if moved != 3 {
			t.Fatalf("expected 3 promoted, got %d", moved)
		}
		for _, want := range []string{"first", "second", "third"} {
			got, err := s.PopReady(ctx, "d")
			if err != nil {
				t.Fatalf("pop: %v", err)
			}
			if string(got) != want {
				t.Fatalf("expected %q, got %q", want, got)
			}
		}
	})

	t.Run("Status", func(t *testing.T) {
		if err := s.SetStatus(ctx, "job-1", []byte("processing"), time.Hour); err != nil {
			t.Fatalf("set: %v", err)
		}
		if err := s.SetStatus(ctx, "job-1", []byte("completed"), time.Hour); err != nil {
			t.Fatalf("set: %v", err)
		}
		got, err := s.GetStatus(ctx, "job-1")
		if err != nil || string(got) != "completed" {
			t.Fatalf("expected completed, got %q err=%v", got, err)
		}
		if err := s.SetStatus(ctx, "job-2", []byte("failed"), time.Millisecond); err != nil {
			t.Fatalf("set: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
		if _, err := s.GetStatus(ctx, "job-2"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected expired status, got %v", err)
		}
	})
}
