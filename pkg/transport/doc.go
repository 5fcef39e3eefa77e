// Package transport delivers saga envelopes to the orchestrator.
//
// Two buses are provided. LocalBus dispatches synchronously in the caller's
// goroutine, which is the in-process mediator mode. RedisStreamBus appends
// envelopes to a Redis stream and consumes them through a consumer group with
// at-least-once semantics: a message is acknowledged only after its handler
// returns nil, and messages left pending by a failed handler or a crashed
// consumer are claimed again once they have been idle for ClaimMinIdle.
//
//	bus := transport.NewRedisStreamBus(client, transport.Handle(orch), transport.WithStreamConfig(cfg))
//	g.Go(bus.Run(ctx))
//	_ = bus.Publish(ctx, env)
package transport
