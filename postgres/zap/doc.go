// Package zap adapts zap-based logging to the postgres/log abstraction.
//
// It preserves structured fields, enriches entries with OpenTelemetry trace
// identifiers when a span is active, and escapes control characters in log
// messages so database errors cannot forge log entries.
package zap
