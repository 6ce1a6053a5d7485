package fn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestResultOkErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("expected ok result")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatalf("Unwrap: got %d, %v", v, err)
	}

	e := Err[int](errors.New("boom"))
	if e.IsOk() {
		t.Fatal("expected err result")
	}
	if got := e.UnwrapOr(7); got != 7 {
		t.Fatalf("UnwrapOr: got %d", got)
	}
}

func TestFromPair(t *testing.T) {
	if r := FromPair("x", nil); r.IsErr() {
		t.Fatal("expected ok")
	}
	if r := FromPair("", errors.New("bad")); r.IsOk() {
		t.Fatal("expected err")
	}
}

func TestCollect(t *testing.T) {
	all := []Result[int]{Ok(1), Ok(2), Ok(3)}
	r := Collect(all)
	vals, err := r.Unwrap()
	if err != nil || len(vals) != 3 {
		t.Fatalf("Collect: %v %v", vals, err)
	}

	withErr := []Result[int]{Ok(1), Err[int](errors.New("no")), Ok(3)}
	if r := Collect(withErr); r.IsOk() {
		t.Fatal("expected first error to propagate")
	}
}

func TestThenShortCircuits(t *testing.T) {
	boom := errors.New("boom")
	first := func(_ context.Context, s string) Result[int] {
		return Err[int](boom)
	}
	var secondCalled bool
	second := func(_ context.Context, i int) Result[string] {
		secondCalled = true
		return Ok("done")
	}
	r := Then(first, second)(context.Background(), "in")
	if r.IsOk() {
		t.Fatal("expected error")
	}
	if secondCalled {
		t.Fatal("second stage must not run after failure")
	}
	_, err := r.Unwrap()
	if !errors.Is(err, boom) {
		t.Fatalf("error not propagated: %v", err)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	opts := RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond}
	r := Retry(context.Background(), opts, func(context.Context) Result[string] {
		attempts++
		if attempts < 3 {
			return Err[string](errors.New("transient"))
		}
		return Ok("ok")
	})
	if r.IsErr() {
		t.Fatal("expected eventual success")
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryIfStopsOnOtherErrors(t *testing.T) {
	transient := errors.New("transient")
	permanent := errors.New("permanent")
	attempts := 0
	opts := RetryOpts{
		MaxAttempts: 5,
		InitialWait: time.Millisecond,
		MaxWait:     time.Millisecond,
		RetryIf:     RetryOn(transient),
	}
	r := Retry(context.Background(), opts, func(context.Context) Result[int] {
		attempts++
		return Err[int](permanent)
	})
	if r.IsOk() {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 for non-retryable error", attempts)
	}
}

func TestRetryRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opts := RetryOpts{MaxAttempts: 3, InitialWait: time.Minute, MaxWait: time.Minute}
	r := Retry(ctx, opts, func(context.Context) Result[int] {
		return Err[int](errors.New("fail"))
	})
	_, err := r.Unwrap()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestParMapResultPreservesOrder(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7}
	out := ParMapResult(items, 3, func(i int) Result[int] {
		return Ok(i * 10)
	})
	for i, r := range out {
		v, err := r.Unwrap()
		if err != nil || v != i*10 {
			t.Fatalf("out[%d] = %d, %v", i, v, err)
		}
	}
}

func TestParMapResultBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	items := make([]int, 20)
	ParMapResult(items, 4, func(int) Result[int] {
		cur := active.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return Ok(0)
	})
	if peak.Load() > 4 {
		t.Fatalf("peak concurrency %d exceeds worker bound", peak.Load())
	}
}

func TestChunk(t *testing.T) {
	chunks := Chunk([]int{1, 2, 3, 4, 5}, 2)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	if len(chunks[2]) != 1 || chunks[2][0] != 5 {
		t.Fatalf("last chunk wrong: %v", chunks[2])
	}
	if Chunk([]int{1}, 0) != nil {
		t.Fatal("n <= 0 must return nil")
	}
}

func TestMap(t *testing.T) {
	out := Map([]int{1, 2}, func(i int) string {
		if i == 1 {
			return "one"
		}
		return "two"
	})
	if out[0] != "one" || out[1] != "two" {
		t.Fatalf("Map: %v", out)
	}
}
