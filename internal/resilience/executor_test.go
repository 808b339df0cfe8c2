package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var (
	errDropped = errors.New("connection dropped")
	errStale   = errors.New("prepared statement needs re-prepare")
	errDup     = errors.New("duplicate key")
	errBoom    = errors.New("boom")
)

func testClassify(err error) Kind {
	switch {
	case errors.Is(err, errDropped):
		return KindTransientConnection
	case errors.Is(err, errStale):
		return KindStatementConflict
	case errors.Is(err, errDup):
		return KindConflict
	}
	return KindFatal
}

// newTestExecutor records requested delays instead of sleeping.
func newTestExecutor(resetter PoolResetter) (*Executor, *[]time.Duration) {
	var delays []time.Duration
	var mu sync.Mutex
	e := New(3, 200*time.Millisecond, testClassify, resetter)
	e.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return ctx.Err()
	}
	return e, &delays
}

func TestDo_TransientTwiceThenSucceeds(t *testing.T) {
	e, delays := newTestExecutor(nil)
	calls := 0
	err := e.Do(context.Background(), "append", func(context.Context) error {
		calls++
		if calls <= 2 {
			return errDropped
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d; want 3", calls)
	}
	want := []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}
	if len(*delays) != 2 || (*delays)[0] != want[0] || (*delays)[1] != want[1] {
		t.Fatalf("delays = %v; want %v", *delays, want)
	}
}

func TestDo_ExhaustedReturnsLastTransient(t *testing.T) {
	e, _ := newTestExecutor(nil)
	calls := 0
	err := e.Do(context.Background(), "list", func(context.Context) error {
		calls++
		return errDropped
	})
	if calls != 3 {
		t.Fatalf("calls = %d; want MaxAttempts=3", calls)
	}
	var re *Error
	if !errors.As(err, &re) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if re.Kind != KindTransientConnection || re.Op != "list" || re.Attempts != 3 {
		t.Fatalf("unexpected error: %+v", re)
	}
	if !errors.Is(err, errDropped) || !IsTransient(err) {
		t.Fatalf("error should unwrap to cause and be transient")
	}
}

func TestDo_NonRetryableKindsReturnImmediately(t *testing.T) {
	for _, tc := range []struct {
		cause error
		kind  Kind
	}{
		{errDup, KindConflict},
		{errBoom, KindFatal},
	} {
		e, delays := newTestExecutor(nil)
		calls := 0
		err := e.Do(context.Background(), "op", func(context.Context) error {
			calls++
			return tc.cause
		})
		if calls != 1 || len(*delays) != 0 {
			t.Fatalf("%v: calls=%d delays=%v; want single attempt", tc.cause, calls, *delays)
		}
		if !IsKind(err, tc.kind) {
			t.Fatalf("kind = %v; want %v", KindOf(err), tc.kind)
		}
	}
}

func TestDo_StatementConflictResetsPool(t *testing.T) {
	var resets int32
	e, _ := newTestExecutor(PoolResetterFunc(func(context.Context) error {
		atomic.AddInt32(&resets, 1)
		return nil
	}))
	calls := 0
	err := e.Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls == 1 {
			return errStale
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after reset, got %v", err)
	}
	if got := atomic.LoadInt32(&resets); got != 1 {
		t.Fatalf("resets = %d; want 1", got)
	}
}

func TestDo_ConcurrentStatementConflictsCoalesceReset(t *testing.T) {
	const n = 8
	var resets int32
	e, _ := newTestExecutor(PoolResetterFunc(func(context.Context) error {
		atomic.AddInt32(&resets, 1)
		time.Sleep(200 * time.Millisecond)
		return nil
	}))

	var ready sync.WaitGroup
	ready.Add(n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first := true
			err := e.Do(context.Background(), "op", func(context.Context) error {
				if first {
					first = false
					ready.Done()
					ready.Wait()
					return errStale
				}
				return nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt32(&resets); got != 1 {
		t.Fatalf("resets = %d; want concurrent resets coalesced into 1", got)
	}
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	e := New(5, time.Hour, testClassify, nil)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- e.Do(ctx, "op", func(context.Context) error {
			calls++
			return errDropped
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if KindOf(err) != KindFatal {
			t.Fatalf("cancellation must be fatal, got %v", KindOf(err))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("retry wait did not honor cancellation")
	}
	if calls != 1 {
		t.Fatalf("calls = %d; want 1", calls)
	}
}

func TestDo_AlreadyCancelledSkipsCall(t *testing.T) {
	e, _ := newTestExecutor(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := e.Do(ctx, "op", func(context.Context) error { called = true; return nil })
	if called || !errors.Is(err, context.Canceled) {
		t.Fatalf("called=%v err=%v", called, err)
	}
}

func TestDo_NestedErrorKeepsKind(t *testing.T) {
	e, _ := newTestExecutor(nil)
	inner := &Error{Kind: KindNotFound, Op: "inner", Attempts: 1, Err: errBoom}
	err := e.Do(context.Background(), "outer", func(context.Context) error { return inner })
	if !IsKind(err, KindNotFound) {
		t.Fatalf("expected not_found to survive nesting, got %v", KindOf(err))
	}
}

func TestExecute_ReturnsValue(t *testing.T) {
	e, _ := newTestExecutor(nil)
	calls := 0
	v, err := Execute(context.Background(), e, "get", func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errDropped
		}
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("v=%d err=%v", v, err)
	}
}

func TestNew_Defaults(t *testing.T) {
	e := New(0, -1, nil, nil)
	if e.MaxAttempts != DefaultMaxAttempts || e.BaseDelay != DefaultBaseDelay {
		t.Fatalf("defaults not applied: %+v", e)
	}
	// No classifier: unknown errors are fatal and not retried.
	calls := 0
	_ = e.Do(context.Background(), "op", func(context.Context) error { calls++; return errDropped })
	if calls != 1 {
		t.Fatalf("unclassified errors must not retry, calls=%d", calls)
	}
}

func TestKind_StringAndRetryable(t *testing.T) {
	if KindStatementConflict.String() != "statement_conflict" || Kind(99).String() != "unknown" {
		t.Fatalf("unexpected kind names")
	}
	if !KindTransientConnection.Retryable() || KindConflict.Retryable() || KindFatal.Retryable() {
		t.Fatalf("unexpected retryable set")
	}
	if IsKind(nil, KindFatal) {
		t.Fatalf("nil must not match any kind")
	}
}
