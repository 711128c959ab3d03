// Package logger builds *slog.Logger instances for the service.
//
// New applies functional options over production defaults (JSON, info level,
// stdout). WithEnvironment switches to text output and debug level outside
// production. Context extractors let request-scoped values such as the
// request id be attached to every record without threading a logger through
// each call.
//
//	log := logger.New(
//	    logger.WithEnvironment(cfg.Env, cfg.Name),
//	    logger.WithLevelName(cfg.LogLevel),
//	    logger.WithContextExtractors(api.RequestIDExtractor),
//	)
//
// Attribute helpers (SubscriptionID, PaymentID, EventID, Transition...) keep
// key names consistent across packages.
package logger
