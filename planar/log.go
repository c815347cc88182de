package planar

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Level is the minimum severity a message needs to be logged.
type Level uint32

const (
	DebugLevel Level = iota
	InfoLevel
	WarningLevel
	ErrorLevel
	CriticalLevel
	SilentLevel
)

var levelNames = [...]string{"debug", "info", "warning", "error", "critical", "silent"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("level(%d)", uint32(l))
}

// ParseLevel accepts a level name in any case.  The empty string is InfoLevel.
func ParseLevel(s string) (Level, error) {
	if s == "" {
		return InfoLevel, nil
	}
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), nil
		}
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", s)
}

var level = uint32(InfoLevel)

// SetLevel sets the minimum severity of logged messages.  SilentLevel turns off
// all logging.
func SetLevel(l Level) {
	atomic.StoreUint32(&level, uint32(l))
}

// logs returns true if messages at severity l are written.
func logs(l Level) bool {
	return l >= Level(atomic.LoadUint32(&level))
}

// Logger writes messages at different severities.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Criticalf(format string, args ...interface{})

	// Shutdown makes sure logs are closed.
	Shutdown()
}

func logf(l Level, format string, args ...interface{}) {
	if !logs(l) {
		return
	}
	switch l {
	case DebugLevel:
		logger.Debugf(format, args...)
	case InfoLevel:
		logger.Infof(format, args...)
	case WarningLevel:
		logger.Warningf(format, args...)
	case ErrorLevel:
		logger.Errorf(format, args...)
	default:
		logger.Criticalf(format, args...)
	}
}

func Debugf(format string, args ...interface{})    { logf(DebugLevel, format, args...) }
func Infof(format string, args ...interface{})     { logf(InfoLevel, format, args...) }
func Warningf(format string, args ...interface{})  { logf(WarningLevel, format, args...) }
func Errorf(format string, args ...interface{})    { logf(ErrorLevel, format, args...) }
func Criticalf(format string, args ...interface{}) { logf(CriticalLevel, format, args...) }

// Shutdown flushes and closes any log file.
func Shutdown() {
	logger.Shutdown()
}

// TimeLog appends the time elapsed since its creation to messages.
//
//	timedLog := NewTimeLog()
//	...
//	timedLog.Debugf("fetched %s", key)  // "fetched a/0.0: 12.3ms"
type TimeLog struct {
	start time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{time.Now()}
}

func (t TimeLog) logf(l Level, format string, args ...interface{}) {
	if logs(l) {
		format = strings.TrimSuffix(format, "\n") + ": %s\n"
		logf(l, format, append(args, time.Since(t.start))...)
	}
}

func (t TimeLog) Debugf(format string, args ...interface{}) { t.logf(DebugLevel, format, args...) }
func (t TimeLog) Infof(format string, args ...interface{})  { t.logf(InfoLevel, format, args...) }

// Elapsed returns the time since the TimeLog was created.
func (t TimeLog) Elapsed() time.Duration {
	return time.Since(t.start)
}
