// Package logger provides the process-wide structured logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once   sync.Once
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar  *zap.SugaredLogger
	output = &switchSyncer{w: zapcore.AddSync(os.Stderr)}
)

// switchSyncer lets SetOutput redirect loggers that were already handed out.
type switchSyncer struct {
	mu sync.Mutex
	w  zapcore.WriteSyncer
}

func (s *switchSyncer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *switchSyncer) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Sync()
}

func build() *zap.SugaredLogger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), output, level)
	return zap.New(core).Sugar()
}

// Logger returns the shared sugared logger. Output goes to stderr.
func Logger() *zap.SugaredLogger {
	once.Do(func() {
		sugar = build()
	})
	return sugar
}

// SetLevel changes the level of the shared logger at runtime.
func SetLevel(name string) error {
	lvl, err := ParseLevel(name)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)
	return nil
}

// Level reports the current level name.
func Level() string {
	return level.Level().String()
}

// ParseLevel maps debug|info|warn|error to a zap level. An empty name is info.
func ParseLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q (supported: debug, info, warn, error)", name)
	}
}

// SetOutput sends log output to w and returns the previous destination.
func SetOutput(w io.Writer) io.Writer {
	output.mu.Lock()
	defer output.mu.Unlock()
	prev := output.w
	output.w = zapcore.AddSync(w)
	return prev
}

// Sync flushes buffered log entries.
func Sync() {
	if sugar != nil {
		_ = sugar.Sync()
	}
}
