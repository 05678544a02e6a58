// log.go - Structured diagnostics for the CPU core
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// cpuLog carries core diagnostics (unimplemented FPU sub-ops, shutdowns,
// page fault traces). Status lines for the CLI still go through fmt.
var cpuLog = newCoreLogger(os.Stderr)

func newCoreLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return l
}

// ConfigureLogging applies the [log] section of the machine config.
func ConfigureLogging(cfg LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	cpuLog.SetLevel(level)
	switch cfg.Format {
	case "", "text":
		cpuLog.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	case "json":
		cpuLog.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("log format %q: unsupported", cfg.Format)
	}
	return nil
}

// warnOnce logs each distinct key a single time. Guest code that loops on an
// unimplemented opcode would otherwise flood the log.
type warnOnce struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (w *warnOnce) Warn(key string, fields logrus.Fields, msg string) {
	w.mu.Lock()
	if w.seen == nil {
		w.seen = make(map[string]bool)
	}
	if w.seen[key] {
		w.mu.Unlock()
		return
	}
	w.seen[key] = true
	w.mu.Unlock()
	cpuLog.WithFields(fields).Warn(msg)
}

func hex32(v uint32) string {
	return fmt.Sprintf("0x%08X", v)
}
