// Package logging provides structured logging for the PLC monitor.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same handler, level and default fields.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("poller started", "device", "plc_1500", "interval", time.Second)
//	logger.Warn("s7 read failed", "device", "plc_1500", "error", err)
//
// Never log the MQTT password or the InfluxDB token.
package logging
