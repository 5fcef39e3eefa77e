// Package feed is an in-process fan-out of committed saga transitions.
// Observers such as the CLI printer or a test waiting for a timeout subscribe;
// the orchestrator publishes after every commit. Delivery is lossy by design
// of the contract: a full subscriber misses items rather than slowing the
// orchestrator down, so the feed is for observation, never for control flow.
package feed
