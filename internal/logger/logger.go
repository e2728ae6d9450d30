package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

var (
	out *log.Logger

	// DebugEnabled gates Debugf output; Infof/Warnf/Errorf always log once
	// logging is initialized.
	DebugEnabled = false

	logFile *os.File
)

// InitLogging routes log output to logPath, or to stderr when logPath is
// empty. Debug lines are emitted only when debugMode is set.
func InitLogging(debugMode bool, logPath string) error {
	DebugEnabled = debugMode

	var w io.Writer = os.Stderr

	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}

		logFile = f
		w = f
	}

	out = log.New(w, "", log.Ldate|log.Ltime|log.Lshortfile)

	return nil
}

// Close closes the log file if open.
func Close() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	out = nil
}

func Infof(format string, v ...interface{}) {
	logf("[INFO] ", format, v...)
}

func Errorf(format string, v ...interface{}) {
	logf("[ERROR] ", format, v...)
}

func Warnf(format string, v ...interface{}) {
	logf("[WARNING] ", format, v...)
}

// Debugf logs only when debug mode was requested at init time.
func Debugf(format string, v ...interface{}) {
	if DebugEnabled {
		logf("[DEBUG] ", format, v...)
	}
}

func logf(level, format string, v ...interface{}) {
	if out == nil {
		return
	}

	out.Output(3, fmt.Sprintf(level+format, v...))
}
