package planar

import (
	"fmt"
	"log"
	"sync"

	"github.com/natefinch/lumberjack"
)

type stdLogger struct {
	mu sync.Mutex
	*lumberjack.Logger
}

var logger Logger = &stdLogger{}

// LogConfig holds the [logging] settings of the TOML configuration.
type LogConfig struct {
	Logfile string
	MaxSize int `toml:"max_log_size"`
	MaxAge  int `toml:"max_log_age"`

	// Level is the minimum severity logged, e.g. "debug" or "warning".
	Level string
}

// SetLogger applies the configured level and, if a log file is given, saves
// messages to it with rotation.
func (c *LogConfig) SetLogger() error {
	if c == nil {
		return nil
	}
	lvl, err := ParseLevel(c.Level)
	if err != nil {
		return err
	}
	SetLevel(lvl)
	if c.Logfile == "" {
		Infof("Sending log messages to stdout since no log file specified.\n")
		return nil
	}
	fmt.Printf("Sending log messages to: %s\n", c.Logfile)
	l := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize, // megabytes
		MaxAge:   c.MaxAge,  // days
	}
	log.SetOutput(l)
	if slog, ok := logger.(*stdLogger); ok {
		slog.mu.Lock()
		slog.Logger = l
		slog.mu.Unlock()
	}
	return nil
}

// --- Logger implementation ----

func (slog *stdLogger) Debugf(format string, args ...interface{}) {
	log.Printf("   DEBUG "+format, args...)
}

func (slog *stdLogger) Infof(format string, args ...interface{}) {
	log.Printf("    INFO "+format, args...)
}

func (slog *stdLogger) Warningf(format string, args ...interface{}) {
	log.Printf(" WARNING "+format, args...)
}

func (slog *stdLogger) Errorf(format string, args ...interface{}) {
	log.Printf("   ERROR "+format, args...)
}

func (slog *stdLogger) Criticalf(format string, args ...interface{}) {
	log.Printf("CRITICAL "+format, args...)
}

func (slog *stdLogger) Shutdown() {
	slog.mu.Lock()
	defer slog.mu.Unlock()
	if slog.Logger != nil {
		log.Printf("Closing log file...\n")
		slog.Close()
		slog.Logger = nil
	}
}
