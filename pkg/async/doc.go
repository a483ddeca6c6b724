// Package async provides background execution helpers with panic recovery.
//
// SafeGo runs a single task in a goroutine, logging its error through the
// observability logger instead of crashing the process:
//
//	async.SafeGo(ctx, logger, 0, "catalog watcher", func(ctx context.Context) error {
//		return backend.WatchCatalog(ctx, engine.Invalidate)
//	})
//
// WorkerPool runs queued tasks on a fixed set of workers. The audit package uses
// it to keep audit writes off the upgrade path:
//
//	pool := async.NewWorkerPool(ctx, 2, 256, "audit", 5*time.Second, logger)
//	defer pool.Shutdown(5 * time.Second)
//
//	if err := pool.Submit(ctx, task); err != nil {
//		// ErrPoolClosed or ctx.Err()
//	}
//
// Batch fans a slice out over a short-lived pool and collects the errors.
package async
