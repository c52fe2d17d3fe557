package promdb

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Future is a single-assignment placeholder for a value produced
// asynchronously. It is settled (resolved or rejected) exactly once.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future already resolved with v.
func Resolved[T any](v T) *Future[T] {
	f := newFuture[T]()
	f.resolve(v)
	return f
}

// Rejected returns a future already rejected with err.
func Rejected[T any](err error) *Future[T] {
	f := newFuture[T]()
	f.reject(err)
	return f
}

func (f *Future[T]) resolve(v T) bool {
	var ok bool
	f.once.Do(func() {
		f.val = v
		ok = true
		close(f.done)
	})
	return ok
}

func (f *Future[T]) reject(err error) bool {
	if err == nil {
		panic("reject with nil error")
	}
	var ok bool
	f.once.Do(func() {
		f.err = err
		ok = true
		close(f.done)
	})
	return ok
}

func (f *Future[T]) settle(v T, err error) bool {
	if err != nil {
		return f.reject(err)
	}
	return f.resolve(v)
}

// Done is closed once the future is settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

func (f *Future[T]) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Await blocks until the future settles or ctx is done. Giving up on ctx does
// not cancel the work behind the future.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.val, f.err
}

// Then runs fn with the resolved value on a new goroutine. A rejection skips
// fn and propagates; a panic in fn rejects the derived future.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	out := newFuture[U]()
	go func() {
		v, err := f.Wait()
		if err != nil {
			out.reject(err)
			return
		}
		out.settle(safelyCall(fn, v))
	}()
	return out
}

// All resolves with every value in input order, or rejects with the first
// rejection without waiting for the rest.
func All[T any](fs []*Future[T]) *Future[[]T] {
	out := newFuture[[]T]()
	go func() {
		results := make([]T, len(fs))
		g, ctx := errgroup.WithContext(context.Background())
		for i, f := range fs {
			g.Go(func() error {
				v, err := f.Await(ctx)
				if err != nil {
					return err
				}
				results[i] = v
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			out.reject(err)
			return
		}
		out.resolve(results)
	}()
	return out
}

// spawn runs fn on a new goroutine and settles the returned future with its
// outcome.
func spawn[T any](fn func() (T, error)) *Future[T] {
	out := newFuture[T]()
	go func() {
		out.settle(safelyCall(func(struct{}) (T, error) { return fn() }, struct{}{}))
	}()
	return out
}
