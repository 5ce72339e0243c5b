// Package logger provides per-package zerolog loggers configured from
// config.LogConfig.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fraser-isbester/cdfwd/internal/config"
)

// Manager manages multiple loggers for different packages
type Manager struct {
	config         config.LogConfig
	root           zerolog.Logger
	packageLoggers map[string]zerolog.Logger
	mu             sync.RWMutex
	closers        []io.Closer
}

// NewManager creates a new logger manager
func NewManager(cfg config.LogConfig) (*Manager, error) {
	m := &Manager{
		config:         cfg,
		packageLoggers: make(map[string]zerolog.Logger),
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	writers, err := m.createWriters(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create log writers: %w", err)
	}

	var w io.Writer
	switch len(writers) {
	case 0:
		w = io.Discard
	case 1:
		w = writers[0]
	default:
		w = io.MultiWriter(writers...)
	}

	m.root = zerolog.New(w).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	if cfg.Caller {
		m.root = m.root.With().Caller().Logger()
	}
	return m, nil
}

func (m *Manager) createWriters(cfg config.LogConfig) ([]io.Writer, error) {
	var writers []io.Writer

	for _, output := range cfg.Output {
		if !output.Enabled {
			continue
		}

		switch output.Type {
		case "console":
			if cfg.Format == "console" {
				writers = append(writers, zerolog.ConsoleWriter{
					Out:        os.Stderr,
					TimeFormat: "15:04:05.000",
					FormatLevel: func(i interface{}) string {
						return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
					},
				})
			} else {
				writers = append(writers, os.Stderr)
			}

		case "file":
			if output.Path == "" {
				return nil, fmt.Errorf("file output requires a path")
			}
			if err := os.MkdirAll(filepath.Dir(output.Path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %w", err)
			}
			if output.Rotate.MaxSizeMB > 0 {
				w := &lumberjack.Logger{
					Filename:   output.Path,
					MaxSize:    output.Rotate.MaxSizeMB,
					MaxBackups: output.Rotate.MaxBackups,
					MaxAge:     output.Rotate.MaxAgeDays,
					Compress:   output.Rotate.Compress,
				}
				m.closers = append(m.closers, w)
				writers = append(writers, w)
				continue
			}
			file, err := os.OpenFile(output.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("failed to open log file %s: %w", output.Path, err)
			}
			m.closers = append(m.closers, file)
			writers = append(writers, file)

		default:
			return nil, fmt.Errorf("unsupported output type: %s", output.Type)
		}
	}
	return writers, nil
}

// GetLogger returns a logger for a specific package
func (m *Manager) GetLogger(pkg string) zerolog.Logger {
	m.mu.RLock()
	if l, ok := m.packageLoggers[pkg]; ok {
		m.mu.RUnlock()
		return l
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.packageLoggers[pkg]; ok {
		return l
	}

	level := parseLevel(m.config.Level)
	if pkgLevel, ok := m.config.Levels[pkg]; ok {
		level = parseLevel(pkgLevel)
	}
	l := m.root.With().Str("pkg", pkg).Logger().Level(level)
	m.packageLoggers[pkg] = l
	return l
}

// Close closes all file writers
func (m *Manager) Close() error {
	for _, c := range m.closers {
		if err := c.Close(); err != nil {
			return err
		}
	}
	return nil
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	case "PANIC":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

var (
	globalMu      sync.RWMutex
	globalManager *Manager
)

// Initialize installs the process-wide manager used by GetLogger.
func Initialize(cfg config.LogConfig) error {
	m, err := NewManager(cfg)
	if err != nil {
		return err
	}
	globalMu.Lock()
	globalManager = m
	globalMu.Unlock()
	return nil
}

// GetLogger returns a logger for the specified package. Before Initialize
// it returns a logger that discards everything.
func GetLogger(pkg string) zerolog.Logger {
	globalMu.RLock()
	m := globalManager
	globalMu.RUnlock()
	if m == nil {
		return zerolog.Nop()
	}
	return m.GetLogger(pkg)
}

// CloseGlobal closes the process-wide manager.
func CloseGlobal() error {
	globalMu.RLock()
	m := globalManager
	globalMu.RUnlock()
	if m == nil {
		return nil
	}
	return m.Close()
}
