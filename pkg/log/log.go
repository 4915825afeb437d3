package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger

	logMu      sync.Mutex
	logCfg     Config
	logFile    *os.File
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer

	// FilePath, if set and Output is nil, is opened in append mode and
	// reopened on Reopen() — wired to daemon_mode's SIGHUP handler
	// (§6: "HUP rotates file logs") so an external log rotator can move
	// the file aside and signal the daemon to pick up a fresh one.
	FilePath string
}

// Init initializes the global logger. Safe to call again after a config
// change; Reopen is cheaper for the common rotate-same-file case.
func Init(cfg Config) error {
	logMu.Lock()
	defer logMu.Unlock()
	logCfg = cfg
	return initLocked()
}

// initLocked builds Logger from logCfg. Caller must hold logMu.
func initLocked() error {
	var level zerolog.Level
	switch logCfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := logCfg.Output
	if output == nil && logCfg.FilePath != "" {
		f, err := os.OpenFile(logCfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", logCfg.FilePath, err)
		}
		if logFile != nil {
			logFile.Close()
		}
		logFile = f
		output = f
	}
	if output == nil {
		output = os.Stdout
	}

	if logCfg.JSONOutput || logFile != nil {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
	return nil
}

// Reopen closes and reopens the configured log file, for SIGHUP-driven log
// rotation (§6). A no-op when logging to stdout or a caller-supplied Writer.
func Reopen() error {
	logMu.Lock()
	defer logMu.Unlock()
	if logCfg.FilePath == "" {
		return nil
	}
	return initLocked()
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithNodeID creates a child logger with node_id field
func WithNodeID(nodeID string) zerolog.Logger {
	return Logger.With().Str("node_id", nodeID).Logger()
}

// WithDomain creates a child logger with vm_uuid field
func WithDomain(uuid string) zerolog.Logger {
	return Logger.With().Str("vm_uuid", uuid).Logger()
}

// WithNetwork creates a child logger with vni field
func WithNetwork(vni int) zerolog.Logger {
	return Logger.With().Int("vni", vni).Logger()
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
