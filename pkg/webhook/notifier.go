package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/sagakit/pkg/feed"
	"github.com/dmitrymomot/sagakit/pkg/logger"
	"github.com/dmitrymomot/sagakit/pkg/saga"
)

// EventTransitioned is the notification type for a committed saga transition.
const EventTransitioned = "saga.transitioned"

// Notification is the JSON body POSTed for every transition.
// ID identifies the delivery and is repeated on every retry, so receivers can
// deduplicate on it.
type Notification struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Transition saga.Transitioned `json:"transition"`
}

// Notifier delivers committed transitions to an HTTP endpoint with retries,
// HMAC signing and a circuit breaker. Delivery is best effort: notifications
// that fail every attempt are logged and dropped.
type Notifier struct {
	url        string
	secret     string
	timeout    time.Duration
	maxRetries int
	backoff    Backoff
	breaker    *CircuitBreaker
	client     *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Notifier.
type Option func(*Notifier)

func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) {
		if c != nil {
			n.client = c
		}
	}
}

func WithBackoff(b Backoff) Option {
	return func(n *Notifier) {
		if b != nil {
			n.backoff = b
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithClock overrides the time source used for signatures.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) {
		if now != nil {
			n.now = now
		}
	}
}

// NewNotifier validates cfg and builds a notifier for cfg.URL.
func NewNotifier(cfg Config, opts ...Option) (*Notifier, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: only http and https are supported", ErrInvalidURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidURL)
	}

	n := &Notifier{
		url:        cfg.URL,
		secret:     cfg.Secret,
		timeout:    cfg.Timeout,
		maxRetries: max(cfg.MaxRetries, 0),
		backoff: ExponentialBackoff{
			InitialInterval: cfg.InitialBackoff,
			MaxInterval:     cfg.MaxBackoff,
			Multiplier:      2,
			JitterFactor:    0.1,
		},
		breaker: NewCircuitBreaker(cfg.FailureThreshold, 2, cfg.RecoveryTimeout),
		client:  &http.Client{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	if n.timeout <= 0 {
		n.timeout = 10 * time.Second
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With(logger.Component("webhook"))

	return n, nil
}

// Breaker exposes the endpoint's circuit breaker.
func (n *Notifier) Breaker() *CircuitBreaker {
	return n.breaker
}

// Notify delivers one transition, retrying temporary failures.
// 4xx responses other than 408, 425 and 429 are not retried.
func (n *Notifier) Notify(ctx context.Context, tr saga.Transitioned) error {
	deliveryID := uuid.NewString()
	body, err := json.Marshal(Notification{
		ID:         deliveryID,
		Type:       EventTransitioned,
		Transition: tr,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if !n.breaker.Allow() {
		return ErrCircuitOpen
	}

	var lastErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.backoff.NextInterval(attempt)):
			}
		}

		status, err := n.post(ctx, deliveryID, body)
		if err == nil {
			n.breaker.RecordSuccess()
			return nil
		}
		n.breaker.RecordFailure()
		lastErr = err

		if isPermanent(status) {
			return fmt.Errorf("%w: %w", ErrPermanentFailure, err)
		}
		n.logger.DebugContext(ctx, "webhook attempt failed",
			logger.CorrelationID(tr.CorrelationID),
			logger.Attempt(attempt+1),
			logger.Error(err))
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrDeliveryFailed, n.maxRetries+1, lastErr)
}

func (n *Notifier) post(ctx context.Context, deliveryID string, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "sagakit-webhook/1.0")
	req.Header.Set(HeaderDelivery, deliveryID)
	if n.secret != "" {
		ts := n.now()
		req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts.Unix(), 10))
		req.Header.Set(HeaderSignature, Sign(n.secret, ts, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTemporaryFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return resp.StatusCode, nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	text := strings.ReplaceAll(strings.TrimSpace(string(msg)), "\n", " ")
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	return resp.StatusCode, fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, text)
}

func isPermanent(status int) bool {
	if status < 400 || status >= 500 {
		return false
	}
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	}
	return true
}

// Run subscribes to f and delivers every transition until ctx is done.
// The subscription is registered before Run returns, so transitions committed
// after that point are not missed unless the subscriber buffer overflows.
func (n *Notifier) Run(ctx context.Context, f *feed.Feed[saga.Transitioned]) func() error {
	sub := f.Subscribe(ctx)

	return func() error {
		defer sub.Close()

		for tr := range sub.C() {
			if err := n.Notify(ctx, tr); err != nil && !errors.Is(err, context.Canceled) {
				n.logger.WarnContext(ctx, "transition notification dropped",
					logger.CorrelationID(tr.CorrelationID),
					logger.Transition(tr.From.Name(), tr.To.Name()),
					logger.Version(tr.Version),
					logger.Error(err))
			}
		}
		return nil
	}
}
