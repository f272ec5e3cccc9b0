// Package async runs background work for request handlers.
//
// SafeGo detaches a task from the request's cancellation, recovers panics and
// logs failures with the task name. Batch fans a slice of items out over a
// WorkerPool and collects the errors.
//
//	async.SafeGo(r.Context(), 30*time.Second, "attachment_cleanup", func(ctx context.Context) error {
//		errs := async.Batch(ctx, keys, 4, "attachment_cleanup", 10*time.Second, objects.Delete)
//		return errors.Join(errs...)
//	})
package async
