// Package logger builds slog loggers with environment presets and
// context extractors.
//
// Extractors run per record, so request-scoped values such as the current
// workspace are read from the context passed to InfoContext/ErrorContext:
//
//	log := logger.New(
//		logger.WithEnvironment("production", "workspacekit"),
//		logger.WithContextExtractors(tenant.LoggerExtractor()),
//	)
//	log.InfoContext(ctx, "device registered", logger.DeviceID(id))
package logger
