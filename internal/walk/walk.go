// Package walk runs per-method and per-class visitor callbacks over a
// scope, either sequentially or on a bounded worker pool. Each unit runs
// to completion; nothing inside a unit blocks or suspends. Callers that
// accumulate across units must do so through concurrency-safe structures
// and sort the result by a stable id before the next phase reads it, so
// completion order never leaks into output.
package walk

import (
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/MedRedha/redex/internal/dex"
)

// Workers normalizes a worker count: zero or negative means one worker
// per CPU. Diagnostic runs pass 1 to force serial execution, which may
// only change timing, never output.
func Workers(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}

func methods(s *dex.Scope) []*dex.Method {
	var out []*dex.Method
	for _, c := range s.Classes() {
		out = append(out, c.Methods()...)
	}
	return out
}

// Methods visits every method of the scope sequentially, in scope order.
func Methods(s *dex.Scope, fn func(*dex.Method)) {
	for _, m := range methods(s) {
		fn(m)
	}
}

// ParallelMethods visits every method of the scope on a pool of at most
// workers goroutines.
func ParallelMethods(s *dex.Scope, workers int, fn func(*dex.Method)) {
	parallel(methods(s), workers, fn)
}

// ParallelClasses visits every class on a pool of at most workers
// goroutines.
func ParallelClasses(classes []*dex.Class, workers int, fn func(*dex.Class)) {
	parallel(classes, workers, fn)
}

func parallel[T any](units []T, workers int, fn func(T)) {
	workers = Workers(workers)
	if workers == 1 {
		for _, u := range units {
			fn(u)
		}
		return
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for _, u := range units {
		u := u
		g.Go(func() error {
			fn(u)
			return nil
		})
	}
	_ = g.Wait() // units never return errors; invariant violations panic
}

// ParallelReduceMethods maps fn over every method in parallel and folds
// the results in method order, so the reduction is deterministic even
// when combine is not commutative.
func ParallelReduceMethods[T any](s *dex.Scope, workers int, fn func(*dex.Method) T, combine func(T, T) T) T {
	ms := methods(s)
	results := make([]T, len(ms))
	workers = Workers(workers)
	if workers == 1 {
		for n, m := range ms {
			results[n] = fn(m)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(workers)
		for n, m := range ms {
			n, m := n, m
			g.Go(func() error {
				results[n] = fn(m)
				return nil
			})
		}
		_ = g.Wait()
	}
	var acc T
	for _, r := range results {
		acc = combine(acc, r)
	}
	return acc
}
