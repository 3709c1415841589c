package logger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// MaxLogLines is the default number of lines kept in the log file
const MaxLogLines = 5000

// LogLevel represents the logging level
type LogLevel int

const (
	LogLevelTrace LogLevel = iota
	LogLevelDebug
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

var levelNames = map[LogLevel]string{
	LogLevelTrace: "TRACE",
	LogLevelDebug: "DEBUG",
	LogLevelInfo:  "INFO",
	LogLevelWarn:  "WARN",
	LogLevelError: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLogLevel parses a level name, defaulting to INFO
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LogLevelTrace
	case "DEBUG":
		return LogLevelDebug
	case "WARN", "WARNING":
		return LogLevelWarn
	case "ERROR":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// File is the storage a LimitedLogger writes to. *os.File satisfies it.
type File interface {
	io.ReadWriteSeeker
	io.Closer
	Truncate(size int64) error
}

// LimitedLogger is a leveled logger that keeps at most maxLines lines in its file
type LimitedLogger struct {
	mu        sync.Mutex
	file      File
	level     LogLevel
	lineCount int
	maxLines  int
}

var (
	globalMu     sync.RWMutex
	globalLogger *LimitedLogger

	// stderrLogger is used until a file logger is installed
	stderrLogger = &LimitedLogger{level: LogLevelInfo}
)

// NewLimitedLogger creates a logger on file and installs it as the global logger
func NewLimitedLogger(file File, level LogLevel) *LimitedLogger {
	ll := &LimitedLogger{
		file:     file,
		level:    level,
		maxLines: MaxLogLines,
	}
	ll.lineCount = ll.countLines()

	globalMu.Lock()
	globalLogger = ll
	globalMu.Unlock()
	return ll
}

// SetMaxLines changes the retention limit
func (ll *LimitedLogger) SetMaxLines(n int) {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	ll.maxLines = n
}

// SetLevel sets the logging level
func (ll *LimitedLogger) SetLevel(level LogLevel) {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	ll.level = level
}

// SetGlobalLevel sets the level of the global logger
func SetGlobalLevel(level LogLevel) {
	current().SetLevel(level)
}

func (ll *LimitedLogger) enabled(level LogLevel) bool {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	return level >= ll.level
}

func (ll *LimitedLogger) logf(level LogLevel, format string, v ...any) {
	if !ll.enabled(level) {
		return
	}
	line := fmt.Sprintf("%s [%s] %s\n", time.Now().Format("2006/01/02 15:04:05"), level, fmt.Sprintf(format, v...))
	ll.Write([]byte(line))
}

func (ll *LimitedLogger) Debug(format string, v ...any) { ll.logf(LogLevelDebug, format, v...) }
func (ll *LimitedLogger) Info(format string, v ...any)  { ll.logf(LogLevelInfo, format, v...) }
func (ll *LimitedLogger) Warn(format string, v ...any)  { ll.logf(LogLevelWarn, format, v...) }
func (ll *LimitedLogger) Error(format string, v ...any) { ll.logf(LogLevelError, format, v...) }

// Fatal logs at ERROR and exits with code 1
func (ll *LimitedLogger) Fatal(format string, v ...any) {
	ll.logf(LogLevelError, format, v...)
	os.Exit(1)
}

// Write implements io.Writer so the standard log package can be redirected here
func (ll *LimitedLogger) Write(p []byte) (int, error) {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	if ll.file == nil {
		return os.Stderr.Write(p)
	}

	n, err := ll.file.Write(p)
	if err != nil {
		return n, err
	}

	ll.lineCount += strings.Count(string(p), "\n")
	if ll.maxLines > 0 && ll.lineCount > ll.maxLines {
		ll.rotate()
	}
	return n, nil
}

// Close closes the underlying file
func (ll *LimitedLogger) Close() error {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	if ll.file == nil {
		return nil
	}
	return ll.file.Close()
}

func (ll *LimitedLogger) countLines() int {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	if ll.file == nil {
		return 0
	}
	ll.file.Seek(0, io.SeekStart)
	count := 0
	scanner := bufio.NewScanner(ll.file)
	for scanner.Scan() {
		count++
	}
	ll.file.Seek(0, io.SeekEnd)
	return count
}

// rotate keeps the newest maxLines lines. Caller holds mu.
func (ll *LimitedLogger) rotate() {
	ll.file.Seek(0, io.SeekStart)
	var lines []string
	scanner := bufio.NewScanner(ll.file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) > ll.maxLines {
		lines = lines[len(lines)-ll.maxLines:]
	}

	ll.file.Truncate(0)
	ll.file.Seek(0, io.SeekStart)
	for _, line := range lines {
		io.WriteString(ll.file, line+"\n")
	}
	ll.lineCount = len(lines)
}

func current() *LimitedLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger
	}
	return stderrLogger
}

var noop = func() {}

// Trace returns a function that logs the elapsed time at TRACE level.
// Usage: defer logger.Trace("operation")()
func Trace(name string) func() {
	l := current()
	if !l.enabled(LogLevelTrace) {
		return noop
	}
	start := time.Now()
	return func() {
		l.logf(LogLevelTrace, "%s: %v", name, time.Since(start))
	}
}

func Debug(format string, v ...any) { current().Debug(format, v...) }
func Info(format string, v ...any)  { current().Info(format, v...) }
func Warn(format string, v ...any)  { current().Warn(format, v...) }
func Error(format string, v ...any) { current().Error(format, v...) }
func Fatal(format string, v ...any) { current().Fatal(format, v...) }
