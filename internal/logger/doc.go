// Package logger provides a simple, thread-safe logging facility.
//
// The logger supports four levels: Debug, Info, Warn, and Error.
// Each log entry includes a timestamp, level, optional component ID
// (a simulated user such as "user-3", or a shard such as "shard-1"),
// and the message.
//
// # Basic Usage
//
// Using the default logger:
//
//	logger.Info("", "Swarm started")
//	logger.Info("user-3", "Collection sample.documents provisioned")
//	logger.Error("user-3", "insert_single_document failed: %v", err)
//
// Creating a custom logger:
//
//	l := logger.New(os.Stdout, logger.LevelDebug)
//	l.Debug("shard-2", "Received chunk")
//
// # Log Levels
//
// Messages below the configured level are filtered. ParseLevel maps the
// "log_level" configuration value ("debug", "info", "warn", "error") to a
// Level.
//
// # Thread Safety
//
// All logging operations are protected by a mutex and safe for concurrent use.
package logger
