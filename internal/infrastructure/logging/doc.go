// Package logging provides structured logging for Playout Core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 8080)
//	jobs := logger.Component("jobs")
//	jobs.Error("job failed", "queue", queue, "error", err)
//
// # Security
//
// Never log secrets, tokens, passwords, or API keys.
// Log token subjects, never the token itself:
//
//	logger.Info("operator token accepted", "subject", claims.Subject)
package logging
