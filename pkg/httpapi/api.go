package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dmitrymomot/sagakit/pkg/httpserver"
	"github.com/dmitrymomot/sagakit/pkg/logger"
	"github.com/dmitrymomot/sagakit/pkg/ratelimiter"
	"github.com/dmitrymomot/sagakit/pkg/saga"
	"github.com/dmitrymomot/sagakit/pkg/statemachine"
	"github.com/dmitrymomot/sagakit/pkg/transport"
)

// maxBodyBytes caps the size of a submitted envelope.
const maxBodyBytes = 1 << 20

// InstanceReader is satisfied by *saga.Orchestrator and every saga.Store.
type InstanceReader interface {
	Get(ctx context.Context, correlationID string) (*saga.Instance, error)
}

// Options carries the API's collaborators. Publisher and Reader are required.
type Options struct {
	Publisher    transport.Publisher
	Reader       InstanceReader
	Checks       []httpserver.Check
	CheckTimeout time.Duration
	Logger       *slog.Logger

	// Limiter, when set, limits POST /events per client IP.
	Limiter *ratelimiter.Bucket
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	TrustProxy bool
	// ReservedEvents cannot be submitted by clients, e.g. the timeout event.
	ReservedEvents []statemachine.Event
}

type api struct {
	pub      transport.Publisher
	reader   InstanceReader
	reserved []statemachine.Event
	logger   *slog.Logger
}

// New builds the router.
func New(opts Options) chi.Router {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(logger.Component("httpapi"))
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 5 * time.Second
	}

	a := &api{pub: opts.Publisher, reader: opts.Reader, reserved: opts.ReservedEvents, logger: log}

	r := chi.NewRouter()
	if opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.RequestID)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", httpserver.LivenessHandler())
	r.Get("/readyz", httpserver.ReadinessHandler(log, opts.CheckTimeout, opts.Checks...))

	if opts.Limiter != nil {
		r.With(ratelimiter.Middleware(opts.Limiter, ratelimiter.ByRemoteIP, log)).Post("/events", a.postEvent)
	} else {
		r.Post("/events", a.postEvent)
	}
	r.Get("/sagas/{correlationID}", a.getSaga)

	return r
}

type eventRequest struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	MessageID     uuid.UUID       `json:"message_id"`
}

type eventResponse struct {
	MessageID     uuid.UUID `json:"message_id"`
	CorrelationID string    `json:"correlation_id"`
}

func (a *api) postEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if slices.Contains(a.reserved, statemachine.Event(req.Type)) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("event %s cannot be submitted", req.Type))
		return
	}

	env := saga.Envelope{
		Type:          statemachine.Event(req.Type),
		CorrelationID: req.CorrelationID,
		Payload:       req.Payload,
		MessageID:     req.MessageID,
		OccurredAt:    time.Now().UTC(),
	}
	if env.MessageID == uuid.Nil {
		env.MessageID = uuid.New()
	}

	if err := a.pub.Publish(r.Context(), env); err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			a.logger.ErrorContext(r.Context(), "failed to publish event",
				logger.CorrelationID(env.CorrelationID),
				logger.EventType(env.Type.Name()),
				logger.Error(err))
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, eventResponse{MessageID: env.MessageID, CorrelationID: env.CorrelationID})
}

func (a *api) getSaga(w http.ResponseWriter, r *http.Request) {
	inst, err := a.reader.Get(r.Context(), chi.URLParam(r, "correlationID"))
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			a.logger.ErrorContext(r.Context(), "failed to load saga", logger.Error(err))
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, saga.ErrMissingCorrelationID),
		errors.Is(err, saga.ErrInvalidCorrelationID),
		errors.Is(err, saga.ErrMissingEventType):
		return http.StatusBadRequest
	case errors.Is(err, saga.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, saga.ErrConflictRetriesExhausted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ctx := logger.ContextWithAttrs(r.Context(), logger.RequestID(middleware.GetReqID(r.Context())))

			next.ServeHTTP(ww, r.WithContext(ctx))

			log.DebugContext(ctx, "request handled",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				logger.Duration(time.Since(start)))
		})
	}
}
