// Package logging wraps zap with context-aware methods for crewgate.
//
// Every call takes a context.Context so correlation data (trace and span
// ids, the acting agent, the request id) is attached without threading
// fields by hand:
//
//	logger.Info(ctx, "skill vetted", zap.String("skill", name))
//
// Sensitive field names (secret, token, dsn, ...) are redacted by the
// encoder. Output goes to stdout or stderr; stderr is used when stdout
// carries a protocol, as with the MCP stdio server. When an OpenTelemetry
// LoggerProvider is supplied, entries are also bridged through otelzap.
package logging
