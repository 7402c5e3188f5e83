package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoRecordsFirstError(t *testing.T) {
	s := New(context.Background())
	boom := errors.New("boom")
	s.Go("fails", func(ctx context.Context) error { return boom })
	s.Go("clean", func(ctx context.Context) error { return nil })

	if err := s.Wait(waitCtx(t)); !errors.Is(err, boom) {
		t.Fatalf("wait err=%v", err)
	}
	if s.Context().Err() != nil {
		t.Fatalf("context cancelled without WithCancelOnError")
	}
}

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("panics", func(ctx context.Context) error { panic("kaboom") })

	err := s.Wait(waitCtx(t))
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("err=%v", err)
	}
	if s.Context().Err() == nil {
		t.Fatalf("expected context cancelled on error")
	}
	snap := s.Snapshot()
	if len(snap.Tasks) != 1 || snap.Tasks[0].Panics != 1 || snap.Tasks[0].Active != 0 {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestGoRestartRetriesUntilClean(t *testing.T) {
	s := New(context.Background())
	var calls atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond), WithPublishFirstError(true))

	err := s.Wait(waitCtx(t))
	if calls.Load() != 3 {
		t.Fatalf("calls=%d", calls.Load())
	}
	if err == nil || !strings.Contains(err.Error(), "transient") {
		t.Fatalf("first error not published: %v", err)
	}
	snap := s.Snapshot()
	if snap.Tasks[0].Restarts != 2 || snap.Tasks[0].Started != 3 {
		t.Fatalf("snapshot=%+v", snap.Tasks[0])
	}
}

func TestStopCancelsTasks(t *testing.T) {
	s := New(context.Background())
	s.GoRestart("blocker", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := s.Stop(waitCtx(t)); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.Err() != nil {
		t.Fatalf("cancellation recorded as error: %v", s.Err())
	}
}
