package common

import (
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

var loggerOnce sync.Once
var logger *log.Logger

// Logger returns the shared library logger. The logger is created lazily on
// first use and writes to stderr with timestamps. Callers that want to
// integrate with their own logging can adjust the returned logger directly
// (level, output, formatter) since it is shared by every package in this
// module.
//
// Returns:
//   - *log.Logger: the shared logger instance
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Prefix:          "gltf",
		})
		logger.SetLevel(log.WarnLevel)
	})
	return logger
}

// LogDebug logs a debug message with structured key-value pairs.
func LogDebug(msg string, keyvals ...any) {
	Logger().Debug(msg, keyvals...)
}

// LogWarn logs a warning with structured key-value pairs.
func LogWarn(msg string, keyvals ...any) {
	Logger().Warn(msg, keyvals...)
}

// LogError logs an error with structured key-value pairs.
func LogError(msg string, keyvals ...any) {
	Logger().Error(msg, keyvals...)
}
