package logger

import (
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var (
	mu     sync.RWMutex
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	format = "json"
	base   *zap.Logger
)

func init() {
	base = build(format)
}

func build(enc string) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if enc == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}
	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
	return zap.New(core)
}

// SetLevel changes the minimum level for every component.
func SetLevel(l Level) {
	level.SetLevel(toZap(l))
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// SetFormat switches between "json" and "console" output.
func SetFormat(f string) {
	f = strings.ToLower(strings.TrimSpace(f))
	if f != "console" {
		f = "json"
	}
	mu.Lock()
	defer mu.Unlock()
	if f == format {
		return
	}
	_ = base.Sync()
	format = f
	base = build(f)
}

// Sync flushes buffered entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}

func toZap(l Level) zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func logC(l Level, component, msg string, fields map[string]interface{}) {
	mu.RLock()
	lg := base
	mu.RUnlock()

	zl := toZap(l)
	if !lg.Core().Enabled(zl) {
		return
	}
	zf := make([]zap.Field, 0, len(fields)+1)
	zf = append(zf, zap.String("component", component))
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		zf = append(zf, zap.Any(k, fields[k]))
	}
	if ce := lg.Check(zl, msg); ce != nil {
		ce.Write(zf...)
	}
}

func DebugC(component, msg string) { logC(DEBUG, component, msg, nil) }
func InfoC(component, msg string)  { logC(INFO, component, msg, nil) }
func WarnC(component, msg string)  { logC(WARN, component, msg, nil) }
func ErrorC(component, msg string) { logC(ERROR, component, msg, nil) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	logC(DEBUG, component, msg, fields)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	logC(INFO, component, msg, fields)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	logC(WARN, component, msg, fields)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	logC(ERROR, component, msg, fields)
}
