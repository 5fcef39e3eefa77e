// Package timeout schedules per-saga timeouts on the durable queue.
//
// Each ticket is a one-time queue task whose ID is the timeout token. Cancelling
// a token therefore cancels the task; a task that was already claimed cannot be
// cancelled, which is why consumers must also reject fired tickets whose token
// no longer matches the instance.
//
//	sched := timeout.NewQueueScheduler(enqueuer, timeout.WithQueueName("timeouts"))
//	worker.RegisterHandlers(timeout.NewDispatcher(orchestrator.FireTimeout))
package timeout
