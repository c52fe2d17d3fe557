package promdb

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFuture_SettlesOnce(t *testing.T) {
	f := newFuture[int]()
	if f.Settled() {
		t.Fatalf("new future is settled")
	}
	if !f.resolve(1) {
		t.Fatalf("first resolve returned false")
	}
	if f.resolve(2) || f.reject(errors.New("late")) {
		t.Fatalf("second settle returned true")
	}
	v, err := f.Wait()
	if err != nil || v != 1 {
		t.Fatalf("Wait = (%v, %v), wanted (1, nil)", v, err)
	}
}

func TestFuture_Rejected(t *testing.T) {
	boom := errors.New("boom")
	v, err := Rejected[string](boom).Wait()
	if err != boom || v != "" {
		t.Fatalf("Wait = (%q, %v), wanted (\"\", boom)", v, err)
	}
}

func TestFuture_AwaitCanceled(t *testing.T) {
	f := newFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Await(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Await = %v, wanted DeadlineExceeded", err)
	}
	if f.Settled() {
		t.Fatalf("giving up settled the future")
	}
}

func TestThen(t *testing.T) {
	f := Then(Resolved(20), func(v int) (int, error) { return v + 1, nil })
	deepEqual(t, must(f.Wait()), 21)

	boom := errors.New("boom")
	called := false
	g := Then(Rejected[int](boom), func(v int) (int, error) {
		called = true
		return v, nil
	})
	if _, err := g.Wait(); err != boom {
		t.Fatalf("Then(rejected) = %v, wanted boom", err)
	}
	if called {
		t.Fatalf("Then ran fn on a rejected future")
	}

	h := Then(Resolved(1), func(int) (int, error) { panic("oops") })
	if _, err := h.Wait(); err == nil {
		t.Fatalf("Then with a panicking fn resolved")
	}
}

func TestAll(t *testing.T) {
	a, b, c := newFuture[string](), newFuture[string](), newFuture[string]()
	all := All([]*Future[string]{a, b, c})
	c.resolve("c")
	a.resolve("a")
	b.resolve("b")
	deepEqual(t, must(all.Wait()), []string{"a", "b", "c"})

	empty := All[int](nil)
	deepEqual(t, must(empty.Wait()), []int{})
}

func TestAll_RejectsWithoutWaiting(t *testing.T) {
	boom := errors.New("boom")
	never := newFuture[int]()
	all := All([]*Future[int]{never, Rejected[int](boom)})
	select {
	case <-all.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("All did not reject while a future was pending")
	}
	if _, err := all.Wait(); err != boom {
		t.Fatalf("All = %v, wanted boom", err)
	}
}
