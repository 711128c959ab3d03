// Package scheduler runs periodic maintenance jobs in-process.
//
// Each registered job gets its own goroutine and timer, so a slow sweep never
// postpones another. Every run is bounded by a timeout, recovered from panics
// and logged; errors are reported to an optional Observer and then dropped,
// because jobs are expected to be idempotent and simply try again on the next
// tick.
//
//	s := scheduler.New(scheduler.WithLogger(log))
//	_ = s.Register("expire-subscriptions", scheduler.Every(5*time.Minute), expireFn)
//	_ = s.Register("cleanup", scheduler.DailyAt(3, 0), cleanupFn, scheduler.WithTimeout(10*time.Minute))
//	err := s.Run(ctx)
package scheduler
