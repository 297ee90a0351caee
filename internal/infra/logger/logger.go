package logger

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sifan077/shortlink/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

const (
	// ServiceName is attached to every entry of the process logger.
	ServiceName = "shortlink"

	consoleTimeLayout = "2006-01-02 15:04:05.000"
)

// Options drives how the process logger is built.
type Options struct {
	Development bool
	// Level is a zap level name; empty keeps the mode's default.
	Level string
	// Encoding is "json" or "console"; empty keeps the mode's default.
	Encoding string
	Service  string
}

// FromConfig maps the log section of the application config onto Options.
func FromConfig(cfg config.LogConfig) Options {
	return Options{
		Development: cfg.Development,
		Level:       cfg.Level,
		Encoding:    cfg.Encoding,
		Service:     ServiceName,
	}
}

// Component returns l named after a subsystem, or a no-op logger when l is nil.
func Component(l *zap.Logger, name string) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l.Named(name)
}

var (
	mu        sync.RWMutex
	installed *zap.Logger
)

// Bootstrap returns a console logger for the window before the config is
// loaded. It never fails; a broken setup yields a no-op logger.
func Bootstrap() *zap.Logger {
	l, err := Build(Options{
		Development: os.Getenv("APP_ENV") != "production",
		Level:       os.Getenv("LOG_LEVEL"),
		Encoding:    "console",
		Service:     ServiceName,
	})
	if err != nil {
		l, _ = Build(Options{Development: true, Encoding: "console", Service: ServiceName})
	}
	if l == nil {
		l = zap.NewNop()
	}
	swap(l)
	return l
}

// Install builds a logger from opts and makes it the process logger, also
// for code that reaches for zap.L.
func Install(opts Options) (*zap.Logger, error) {
	l, err := Build(opts)
	if err != nil {
		return nil, err
	}
	swap(l)
	return l, nil
}

func swap(l *zap.Logger) {
	mu.Lock()
	prev := installed
	installed = l
	mu.Unlock()

	if prev != nil {
		_ = prev.Sync()
	}
	zap.ReplaceGlobals(l)
}

// Current returns the installed logger, or a no-op logger before Bootstrap.
func Current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if installed == nil {
		return zap.NewNop()
	}
	return installed
}

// Flush syncs the installed logger. Terminals and pipes reject fsync, which
// is not an error worth reporting at shutdown.
func Flush() error {
	err := Current().Sync()
	if err == nil || errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.EINVAL) || errors.Is(err, os.ErrInvalid) {
		return nil
	}
	return err
}

// Build returns a logger for opts without installing it.
func Build(opts Options) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if opts.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch opts.Encoding {
	case "":
	case "json", "console":
		zapCfg.Encoding = opts.Encoding
	default:
		return nil, fmt.Errorf("logger: unknown encoding %q", opts.Encoding)
	}

	if opts.Level != "" {
		level, err := parseLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}

	if zapCfg.Encoding == "console" {
		zapCfg.EncoderConfig = consoleEncoderConfig(stdoutIsTerminal())
	} else {
		zapCfg.EncoderConfig = jsonEncoderConfig()
	}

	buildOpts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if opts.Service != "" {
		buildOpts = append(buildOpts, zap.Fields(zap.String("service", opts.Service)))
	}
	return zapCfg.Build(buildOpts...)
}

func parseLevel(raw string) (zapcore.Level, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(raw)))); err != nil {
		return level, fmt.Errorf("logger: invalid level %q: %w", raw, err)
	}
	return level, nil
}

func jsonEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
}

func consoleEncoderConfig(colored bool) zapcore.EncoderConfig {
	cfg := jsonEncoderConfig()
	cfg.ConsoleSeparator = " | "
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format(consoleTimeLayout))
	}
	cfg.EncodeLevel = func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(levelLabel(level, colored))
	}
	return cfg
}

var levelColors = map[zapcore.Level]string{
	zapcore.DebugLevel:  "\x1b[36m",
	zapcore.InfoLevel:   "\x1b[32m",
	zapcore.WarnLevel:   "\x1b[33m",
	zapcore.ErrorLevel:  "\x1b[31m",
	zapcore.DPanicLevel: "\x1b[35m",
	zapcore.PanicLevel:  "\x1b[35m",
	zapcore.FatalLevel:  "\x1b[31m",
}

// levelLabel pads the level to a fixed width so console columns line up.
func levelLabel(level zapcore.Level, colored bool) string {
	label := fmt.Sprintf("%-5s", level.CapitalString())
	color, ok := levelColors[level]
	if !colored || !ok {
		return label
	}
	return color + label + "\x1b[0m"
}

func stdoutIsTerminal() bool {
	if os.Getenv("NO_COLOR") != "" || os.Stdout == nil {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}
