// Package log captures gateway connection activity as structured events.
//
// The connection emits an Event for every envelope sent or received, every
// state transition, and every error. Applications choose where events go by
// supplying a Logger: NoopLogger discards them, SlogAdapter prints them via
// log/slog, and FileLogger appends them to a CBOR trace file that Reader can
// replay later for post-mortem inspection.
package log
