package logs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey string

const ctxKeyLogID ctxKey = "log_id"

// Options configures the global logger. Zero values fall back to sane
// defaults (info level, text format, stdout).
type Options struct {
	Level      string
	Format     string // text, json
	Output     string // stdout, file, both
	File       string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

var (
	mu     sync.RWMutex
	logger = newDefault()
)

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&lineFormatter{enableColor: shouldColorize("stdout")})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Init replaces the global logger according to opts.
// Not concurrent-safe with in-flight logging; call once during startup.
func Init(opts Options) error {
	l := logrus.New()

	output := strings.ToLower(strings.TrimSpace(opts.Output))
	if output == "" {
		output = "stdout"
	}
	w, err := buildWriter(opts, output)
	if err != nil {
		return err
	}
	l.SetOutput(w)

	if strings.ToLower(strings.TrimSpace(opts.Format)) == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&lineFormatter{enableColor: shouldColorize(output)})
	}
	l.SetLevel(parseLevel(opts.Level))

	mu.Lock()
	logger = l
	mu.Unlock()
	return nil
}

func get() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debug(format string, v ...interface{}) { get().Debugf(format, v...) }
func Info(format string, v ...interface{})  { get().Infof(format, v...) }
func Warn(format string, v ...interface{})  { get().Warnf(format, v...) }
func Error(format string, v ...interface{}) { get().Errorf(format, v...) }
func Fatal(format string, v ...interface{}) { get().Fatalf(format, v...) }

func CtxDebug(ctx context.Context, format string, v ...interface{}) {
	get().WithContext(ctx).Debugf(format, v...)
}

func CtxInfo(ctx context.Context, format string, v ...interface{}) {
	get().WithContext(ctx).Infof(format, v...)
}

func CtxWarn(ctx context.Context, format string, v ...interface{}) {
	get().WithContext(ctx).Warnf(format, v...)
}

func CtxError(ctx context.Context, format string, v ...interface{}) {
	get().WithContext(ctx).Errorf(format, v...)
}

// NewLogID returns a fresh correlation id for a pipeline invocation.
func NewLogID() string {
	return uuid.New().String()
}

// SetLogID attaches a correlation id to the context; the formatter prints it.
func SetLogID(ctx context.Context, logID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKeyLogID, logID)
}

func GetLogID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	logID, _ := ctx.Value(ctxKeyLogID).(string)
	return logID
}

func buildWriter(opts Options, output string) (io.Writer, error) {
	switch output {
	case "stdout":
		return os.Stdout, nil
	case "file":
		return newRotateWriter(opts)
	case "both":
		w, err := newRotateWriter(opts)
		if err != nil {
			return nil, err
		}
		return &dualWriter{stdout: os.Stdout, file: w}, nil
	default:
		return nil, fmt.Errorf("unsupported log output: %s", output)
	}
}

func newRotateWriter(opts Options) (io.Writer, error) {
	if strings.TrimSpace(opts.File) == "" {
		return nil, fmt.Errorf("log file is required when output includes file")
	}
	dir := filepath.Dir(opts.File)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir failed: %w", err)
		}
	}

	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = 100
	}

	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: max(opts.MaxBackups, 0),
		MaxAge:     max(opts.MaxAge, 0),
		Compress:   opts.Compress,
	}, nil
}

type dualWriter struct {
	stdout io.Writer
	file   io.Writer
}

func (w *dualWriter) Write(p []byte) (int, error) {
	if _, err := w.stdout.Write(p); err != nil {
		return 0, err
	}
	if _, err := w.file.Write(stripANSI(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}
