// Package webhook pushes committed saga transitions to an HTTP endpoint.
//
// A Notifier subscribes to the orchestrator's transition feed and POSTs one
// JSON Notification per transition. Temporary failures (network errors, 5xx,
// 408, 425, 429) are retried with exponential backoff; other 4xx responses
// are permanent. A circuit breaker stops deliveries to an endpoint that keeps
// failing.
//
// When a secret is configured every request carries X-Sagakit-Timestamp and
// X-Sagakit-Signature, the hex HMAC-SHA256 of "<timestamp>.<body>".
// Receivers check them with Verify:
//
//	body, _ := io.ReadAll(r.Body)
//	if err := webhook.Verify(secret, r.Header, body, 5*time.Minute, time.Now()); err != nil {
//		http.Error(w, "bad signature", http.StatusUnauthorized)
//		return
//	}
//
// Notifications are best effort. The feed drops items for a subscriber that
// falls behind, and a notification that fails every attempt is logged and
// discarded. The saga state in the store stays the source of truth.
package webhook
