// Package mongo connects to MongoDB with the official v2 driver, retrying
// until the deployment answers, and exposes a readiness probe.
package mongo
