// Package logging provides structured, context-aware logging for processd.
//
// # Overview
//
// Logger wraps Zap with:
//   - A Trace level (-2, below Debug)
//   - Correlation fields pulled from the context (trace_id, tenant.id,
//     session.id, run.id, request.id)
//   - Encoder-level redaction of secrets and customer contact details
//   - Level-aware sampling (errors are never sampled)
//   - An optional OTEL log bridge teed next to stdout (Output.OTEL)
//
// # Usage
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithTenant(ctx, "acme")
//	ctx = logging.WithRunID(ctx, runID)
//	logger.Info(ctx, "step verified", zap.String("tool", "create_customer"))
//
// # Redaction
//
// Fields whose key matches a configured name (password, token, email,
// phone, ...) are written as [REDACTED]. Use RedactedString or MaskEmail
// when a value must be logged in partial form.
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "rollback complete")
//	tl.AssertLogged(t, zapcore.InfoLevel, "rollback complete")
package logging
