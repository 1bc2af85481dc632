// Package logging provides structured zap logging for screenpilot.
//
// Every log method takes a context so request and answer correlation travels
// with the call:
//
//	ctx = logging.WithRequestID(ctx, c.Response().Header().Get(echo.HeaderXRequestID))
//	ctx = logging.WithAnswerTraceID(ctx, traceID)
//	logger.Info(ctx, "answer generated", zap.String("provider", "primary"))
//
// produces
//
//	{"ts":"...","level":"info","msg":"answer generated","request.id":"...","answer.trace_id":"...","provider":"primary"}
//
// When an OpenTelemetry span is active, trace_id and span_id are added too.
//
// Output goes to stdout, stderr or nowhere, optionally teed into an
// OpenTelemetry LoggerProvider via otelzap. Fields named like credentials
// are redacted by the encoder, and everything below Error is sampled.
//
// Tests use NewTestLogger, which records entries in memory.
package logging
