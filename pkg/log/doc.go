// Package log provides structured logging for replug using zerolog.
//
// Init configures the global logger once at startup; subsystems derive child
// loggers via WithComponent. NewTemporalAdapter lets the Temporal SDK write
// through the same sink.
package log
