// Package queue provides a durable delayed-task queue. Saga timeouts are stored
// here as one-time tasks, and maintenance sweeps run as periodic tasks.
//
// The package is organised around three components:
//
//   - Enqueuer adds one-time tasks and cancels tasks that are still pending
//   - Scheduler keeps exactly one pending task per registered periodic name
//   - Worker claims due tasks and dispatches them to a Handler
//
// Components talk to persistence only through the EnqueuerRepository,
// SchedulerRepository and WorkerRepository interfaces. MemoryStorage serves
// single-process setups and tests; PostgresStorage keeps timers across restarts
// and lets several workers share a table through FOR UPDATE SKIP LOCKED.
//
// # Usage
//
//	storage := queue.NewPostgresStorage(pool)
//
//	enq, _ := queue.NewEnqueuer(storage)
//	id, err := enq.Enqueue(ctx, Reminder{OrderID: "o-1"},
//	    queue.WithDelay(10*time.Second),
//	    queue.WithTaskName("reminder"),
//	)
//
//	// The handler never runs for a task cancelled while still pending.
//	_, _ = enq.Cancel(ctx, id)
//
//	w, _ := queue.NewWorker(storage, queue.WithMaxConcurrentTasks(4))
//	w.RegisterHandlers(queue.NewNamedTaskHandler("reminder",
//	    func(ctx context.Context, r Reminder) error { return nil }))
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(w.Run(ctx))
//
// # Retries
//
// A failed task returns to pending with a linear backoff of 30s per attempt until
// MaxRetries is reached, then moves to the dead letter queue. Tasks whose name has
// no registered handler go to the dead letter queue immediately.
package queue
