// Package saga runs saga instances: it correlates inbound envelopes to
// instances, applies them through a state machine, persists the result under
// optimistic concurrency and keeps each instance's timeout consistent with its
// state.
//
// The pieces are wired explicitly:
//
//	machine := order.Machine(cfg.PaymentTimeout)
//	engine := saga.NewEngine(machine)
//	orch := saga.NewOrchestrator(store, saga.NewResolver(machine), engine, scheduler,
//	    saga.WithMaxAttempts(cfg.MaxAttempts),
//	    saga.WithFeed(transitions),
//	)
//
//	res, err := orch.Handle(ctx, env)
//
// # Guarantees
//
// Effects run only after the transition is persisted. An instance never has two
// live timeout tokens: the engine cancels the old token whenever it schedules a
// new one or leaves the state, and a fired timeout whose token does not match
// the instance is rejected. If scheduling fails after commit, the transition
// stands, the token is cleared and the Reconciler schedules the remaining delay
// on its next pass.
//
// Rejected events (duplicates, late timeouts, events for a finalized saga)
// are not errors: Handle reports them with Result.Accepted set to false.
package saga
