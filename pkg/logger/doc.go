// Package logger builds *slog.Logger instances with functional options and
// provides attribute constructors that keep key names consistent across the
// orchestrator, the timer queue and the transports.
//
//	log := logger.New(
//	    logger.WithEnvironment(environment.Development, "sagakit"),
//	    logger.WithConfig(cfg),
//	)
//
//	ctx = logger.ContextWithAttrs(ctx, logger.CorrelationID(id))
//	log.InfoContext(ctx, "transition applied", logger.Transition("Initial", "WaitingForPayment"))
//
// Attribute helpers such as Error and Token return an empty attribute for nil
// input, so they can be passed without a nil check.
package logger
