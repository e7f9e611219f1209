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
)

var (
	mu         sync.Mutex
	logPath    string
	level      = zerolog.InfoLevel
	fileWriter io.Writer
	defaultLog *zerolog.Logger
)

// Init configures the shared log destination. Safe to call once from the
// composition root before any component logger is created.
func Init(dir, lvl string) error {
	mu.Lock()
	defer mu.Unlock()

	parsed, err := zerolog.ParseLevel(strings.ToLower(lvl))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	level = parsed

	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
		logPath = filepath.Join(dir, "application.log")
		fileWriter = &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	defaultLog = nil
	return nil
}

// New returns a logger tagged with the component name, writing to the console
// and, when configured, the rotated application log.
func New(component string) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return build(component)
}

func build(component string) zerolog.Logger {
	console := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	writers := []io.Writer{console}
	if fileWriter != nil {
		writers = append(writers, fileWriter)
	}
	return zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// Default returns the process-wide logger.
func Default() zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if defaultLog == nil {
		l := build("main")
		defaultLog = &l
	}
	return *defaultLog
}

// GetLogPath returns the current application log file path, if file logging
// is configured.
func GetLogPath() string {
	mu.Lock()
	defer mu.Unlock()
	return logPath
}
