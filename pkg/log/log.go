package log

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel string

const (
	FatalLevel    = "fatal"
	ErrorLevel    = "error"
	WarningLevel  = "warn"
	DebugLevel    = "debug"
	InfoLevel     = "info"
	TraceLevel    = "trace"
	DisabledLevel = "disabled"
)

var levelmap = map[LogLevel]int{
	TraceLevel:    5,
	DebugLevel:    4,
	InfoLevel:     3,
	WarningLevel:  2,
	ErrorLevel:    1,
	FatalLevel:    0,
	DisabledLevel: -1,
}

// zap has no trace level, one below debug is used instead.
var zapLevels = map[LogLevel]zapcore.Level{
	TraceLevel:   zapcore.DebugLevel - 1,
	DebugLevel:   zapcore.DebugLevel,
	InfoLevel:    zapcore.InfoLevel,
	WarningLevel: zapcore.WarnLevel,
	ErrorLevel:   zapcore.ErrorLevel,
	FatalLevel:   zapcore.FatalLevel,
}

var logfFuncMap = map[LogLevel]func(msg string, args ...interface{}){
	TraceLevel:   Tracef,
	DebugLevel:   Debugf,
	InfoLevel:    Infof,
	WarningLevel: Warnf,
	ErrorLevel:   Errorf,
	FatalLevel:   Fatalf,
}

var logFuncMap = map[LogLevel]func(args ...interface{}){
	TraceLevel:   Trace,
	DebugLevel:   Debug,
	InfoLevel:    Info,
	WarningLevel: Warn,
	ErrorLevel:   Error,
	FatalLevel:   Fatal,
}

type logWrapper struct {
	mu    sync.RWMutex
	core  zapcore.Core
	Level LogLevel
}

func (l *logWrapper) Printf(level LogLevel, format string, args ...any) {
	if !ShouldLog(level, l.level()) {
		return
	}
	l.write(level, fmt.Sprintf(format, args...))
}

func (l *logWrapper) Println(level LogLevel, args ...any) {
	if !ShouldLog(level, l.level()) {
		return
	}
	l.write(level, strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
}

func (l *logWrapper) level() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.Level
}

func (l *logWrapper) write(level LogLevel, msg string) {
	l.mu.RLock()
	core := l.core
	l.mu.RUnlock()

	entry := zapcore.Entry{
		Level:   zapLevels[level],
		Time:    time.Now().Local(),
		Message: msg,
	}
	_ = core.Write(entry, nil)
}

func (l *logWrapper) setCore(core zapcore.Core) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.core = core
}

func (l *logWrapper) setLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Level = level
}

var (
	stdoutLog logWrapper
	stderrLog logWrapper
)

func encodeLevel(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	name := level.String()
	if level < zapcore.DebugLevel {
		name = TraceLevel
	}
	enc.AppendString(fmt.Sprintf("%5s", name))
}

func newEncoder() zapcore.Encoder {
	return zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "time",
		LevelKey:         "level",
		MessageKey:       "msg",
		EncodeTime:       zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000"),
		EncodeLevel:      encodeLevel,
		ConsoleSeparator: " - ",
	})
}

// Filtering is done by ShouldLog, cores accept everything.
var allLevels = zapcore.LevelEnabler(zapcore.DebugLevel - 1)

func newCore(w io.Writer) zapcore.Core {
	return zapcore.NewCore(newEncoder(), zapcore.AddSync(w), allLevels)
}

func init() {
	stdoutLog = logWrapper{core: newCore(os.Stdout), Level: InfoLevel}
	stderrLog = logWrapper{core: newCore(os.Stderr), Level: InfoLevel}
}

// Rotating log file settings.
type FileOptions struct {
	// Path of the log file. Empty disables file logging.
	Path string
	// Maximum size in megabytes before rotation.
	MaxSizeMB int
	// Number of rotated files to keep.
	MaxBackups int
	// Maximum age of rotated files in days.
	MaxAgeDays int
	// Gzip rotated files.
	Compress bool
}

// Tee all log output into a rotating file in addition to stdout/stderr.
// Returns a function which flushes and closes the file.
func Configure(opts FileOptions) func() error {
	if opts.Path == "" {
		return func() error { return nil }
	}

	file := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}

	fileCore := newCore(file)
	stdoutLog.setCore(zapcore.NewTee(newCore(os.Stdout), fileCore))
	stderrLog.setCore(zapcore.NewTee(newCore(os.Stderr), fileCore))

	return func() error {
		stdoutLog.setCore(newCore(os.Stdout))
		stderrLog.setCore(newCore(os.Stderr))
		return file.Close()
	}
}

// Redirect output, used by tests.
func SetOutput(stdout, stderr io.Writer) {
	stdoutLog.setCore(newCore(stdout))
	stderrLog.setCore(newCore(stderr))
}

func SetLevel(loglevel LogLevel) error {
	_, ok := levelmap[loglevel]
	if !ok {
		return fmt.Errorf("No such log level %s", loglevel)
	}

	stderrLog.setLevel(loglevel)
	stdoutLog.setLevel(loglevel)
	return nil
}

func ValidLogLevel(level LogLevel) bool {
	_, ok := levelmap[level]
	return ok
}

func ShouldLog(logLevel, enabled LogLevel) bool {
	if !ValidLogLevel(logLevel) || !ValidLogLevel(enabled) {
		return false
	}
	return levelmap[logLevel] <= levelmap[enabled]
}

func Log(level LogLevel, msg string, args ...interface{}) {
	if ValidLogLevel(level) && level != DisabledLevel {
		if len(args) > 0 {
			logfFuncMap[level](msg, args...)
		} else {
			logFuncMap[level](msg)
		}
	}
}

func Trace(args ...interface{}) {
	stdoutLog.Println(TraceLevel, args...)
}

func Debug(args ...interface{}) {
	stdoutLog.Println(DebugLevel, args...)
}

func Info(args ...interface{}) {
	stdoutLog.Println(InfoLevel, args...)
}

func Warn(args ...interface{}) {
	stderrLog.Println(WarningLevel, args...)
}

func Error(args ...interface{}) {
	stderrLog.Println(ErrorLevel, args...)
}

func Fatal(args ...interface{}) {
	stderrLog.Println(FatalLevel, args...)
	debug.PrintStack()
	os.Exit(1)
}

func Tracef(format string, args ...interface{}) {
	stdoutLog.Printf(TraceLevel, format, args...)
}

func Debugf(format string, args ...interface{}) {
	stdoutLog.Printf(DebugLevel, format, args...)
}

func Infof(format string, args ...interface{}) {
	stdoutLog.Printf(InfoLevel, format, args...)
}

func Warnf(format string, args ...interface{}) {
	stderrLog.Printf(WarningLevel, format, args...)
}

func Errorf(format string, args ...interface{}) {
	stderrLog.Printf(ErrorLevel, format, args...)
}

func Fatalf(format string, args ...interface{}) {
	stderrLog.Printf(FatalLevel, format, args...)
	debug.PrintStack()
	os.Exit(1)
}

func NewLogger() *log.Logger {
	return log.New(NewLogWriter(DebugLevel), "", 0)
}

type writeFunc func([]byte) (int, error)

func (fn writeFunc) Write(data []byte) (int, error) {
	return fn(data)
}

func NewLogWriter(level LogLevel) io.Writer {
	return writeFunc(func(data []byte) (int, error) {
		Log(level, "%s", strings.TrimSuffix(string(data), "\n"))
		return len(data), nil
	})
}

func DebugError(err error) {
	indent := 1

	Debug(err.Error())

	for {
		if err = errors.Unwrap(err); err == nil {
			break
		}

		Debugf("| %d: %s", indent, err.Error())
		indent += 1
	}
}
