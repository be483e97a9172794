// Package resource enforces the budgets shared by a tiered directory.
//
//   - Memory: bytes held by in-RAM block caches (non-blocking, fail fast)
//   - Fetches: remote range requests in flight (weighted semaphore)
//   - IO: remote download bandwidth (token bucket)
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:     256 << 20,
//	    MaxConcurrentFetches: 32,
//	    IOLimitBytesPerSec:   200 << 20,
//	})
//
//	if err := rc.AcquireFetch(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseFetch()
//	if err := rc.AcquireIO(ctx, length); err != nil {
//	    return err
//	}
//
// Every method is safe for concurrent use, and a nil *Controller is a valid
// controller with no limits.
package resource
