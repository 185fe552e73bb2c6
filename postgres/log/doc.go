// Package log defines the logging interface and typed logging fields used by
// the postgres packages.
//
// Adapters (such as the zap package) implement Logger so applications can plug
// their own logging backend into connection lifecycle events.
package log
