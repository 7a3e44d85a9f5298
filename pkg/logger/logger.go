package logger

import (
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/truefoundry/bigtable-autoscaler/pkg/values"
)

// NewLogger builds the process logger. "prod" emits JSON, anything else a colored console encoding.
// When sentryEnabled is set, entries at error level or above are also captured as Sentry events.
func NewLogger(env string, sentryEnabled bool) (*zap.Logger, error) {
	var config zap.Config

	if env == values.LogEnvProd {
		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "timestamp"
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

		config = zap.NewProductionConfig()
		config.EncoderConfig = encoderCfg
	} else {
		encoderCfg := zap.NewDevelopmentEncoderConfig()
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderCfg.EncodeDuration = zapcore.StringDurationEncoder
		encoderCfg.StacktraceKey = "" // removes stack trace from error logs

		config = zap.Config{
			Level:            zap.NewAtomicLevelAt(zap.DebugLevel),
			Development:      true,
			Encoding:         "console",
			EncoderConfig:    encoderCfg,
			OutputPaths:      []string{"stdout"},
			ErrorOutputPaths: []string{"stderr"},
		}
	}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("error creating logger: %w", err)
	}

	if sentryEnabled {
		logger = logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, newSentryCore(func(e *sentry.Event) { sentry.CaptureEvent(e) }))
		}))
	}

	return logger, nil
}

// sentryCore captures entries at error level or above as Sentry events. Fields added with With
// or passed to the log call become event tags, except the error field, which becomes the
// exception value.
type sentryCore struct {
	zapcore.LevelEnabler
	tags    map[string]string
	capture func(*sentry.Event)
}

func newSentryCore(capture func(*sentry.Event)) *sentryCore {
	return &sentryCore{
		LevelEnabler: zapcore.ErrorLevel,
		tags:         map[string]string{},
		capture:      capture,
	}
}

func (c *sentryCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &sentryCore{
		LevelEnabler: c.LevelEnabler,
		tags:         maps.Clone(c.tags),
		capture:      c.capture,
	}
	addTags(clone.tags, fields)
	return clone
}

func (c *sentryCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c *sentryCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	tags := maps.Clone(c.tags)
	addTags(tags, fields)

	errValue := tags[errorKey]
	delete(tags, errorKey)
	if errValue == "" {
		errValue = entry.Message
	}

	event := &sentry.Event{
		Message:   entry.Message,
		Level:     sentry.LevelError,
		Timestamp: entry.Time,
		Logger:    entry.LoggerName,
		Tags:      tags,
	}

	exception := sentry.Exception{Value: errValue, Type: "error"}
	if entry.Stack != "" {
		stackTrace, err := parseStackTrace(entry.Stack)
		if err != nil {
			return err
		}
		exception.Stacktrace = stackTrace
	}
	event.Exception = []sentry.Exception{exception}

	c.capture(event)
	return nil
}

func (c *sentryCore) Sync() error {
	return nil
}

const errorKey = "error"

func addTags(tags map[string]string, fields []zapcore.Field) {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	for k, v := range enc.Fields {
		tags[k] = fmt.Sprint(v)
	}
}

// parseStackTrace converts zap's "func\n\tfile:line" pairs into Sentry frames, innermost last.
func parseStackTrace(stack string) (*sentry.Stacktrace, error) {
	var frames []sentry.Frame
	lines := strings.Split(strings.TrimRight(stack, "\n"), "\n")
	if len(lines)%2 != 0 {
		return nil, fmt.Errorf("invalid stack trace: odd number of lines (%d)", len(lines))
	}

	for i := 0; i+1 < len(lines); i += 2 {
		funcName := strings.TrimSpace(lines[i])
		fileName := strings.TrimSpace(lines[i+1])

		idx := strings.LastIndex(fileName, ":")
		if idx <= 0 {
			return nil, fmt.Errorf("invalid stack trace line: %s", fileName)
		}

		lineNumber, err := strconv.Atoi(fileName[idx+1:])
		if err != nil {
			return nil, fmt.Errorf("invalid stack trace line: %s", fileName)
		}

		frames = append(frames, sentry.Frame{
			Function: funcName,
			Filename: fileName[:idx],
			Lineno:   lineNumber,
		})
	}

	// Reverse the order of the frames for sentry to display them in the correct order
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}

	return &sentry.Stacktrace{Frames: frames}, nil
}
