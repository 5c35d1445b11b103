// Package logger provides a simple, thread-safe logging facility backed by zap.
//
// The logger supports four levels: Debug, Info, Warn, and Error.
// Each log entry includes a timestamp, level, optional component name, and message.
//
// # Basic Usage
//
// Using the default logger:
//
//	logger.Info("", "Load test started")
//	logger.Info("engine", "Dispatched %d records", n)
//	logger.Error("engine", "Write failed: %v", err)
//
// Creating a custom logger:
//
//	l := logger.New(os.Stderr, logger.LevelDebug)
//	l.Debug("engine", "Debug message")
//
// Machine-readable output:
//
//	l := logger.NewWithFormat(os.Stdout, logger.LevelInfo, logger.FormatJSON)
//
// # Log Levels
//
// Messages below the configured level are filtered:
//   - LevelDebug: all messages
//   - LevelInfo: Info, Warn, Error
//   - LevelWarn: Warn, Error
//   - LevelError: Error only
//
// # Thread Safety
//
// The level is an atomic zap level and writes go through a locked sink, so all
// logging operations are safe for concurrent use.
package logger
