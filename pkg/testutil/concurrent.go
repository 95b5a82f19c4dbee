package testutil

import (
	"errors"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"folio/internal/sentinel"
	dErrors "folio/pkg/domain-errors"
)

// ConcurrentResult counts how the calls of a RunConcurrent finished.
type ConcurrentResult struct {
	Successes   int32
	RateLimited int32
	NotFounds   int32
	Errors      int32
}

// RunConcurrent calls fn from n goroutines at once and buckets the returned
// errors by domain code. Failures never cancel the other calls.
func RunConcurrent(n int, fn func(idx int) error) *ConcurrentResult {
	var ok, limited, missing, failed atomic.Int32
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			err := fn(i)
			switch {
			case err == nil:
				ok.Add(1)
			case dErrors.HasCode(err, dErrors.CodeRateLimited):
				limited.Add(1)
			case errors.Is(err, sentinel.ErrNotFound), dErrors.HasCode(err, dErrors.CodeNotFound):
				missing.Add(1)
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return &ConcurrentResult{
		Successes:   ok.Load(),
		RateLimited: limited.Load(),
		NotFounds:   missing.Load(),
		Errors:      failed.Load(),
	}
}
