// Package logger 包装 go.uber.org/zap 提供进程级日志器：一次 Init，
// 其余代码通过包级便捷函数输出结构化日志。未显式初始化时落到
// info/console 的默认配置，便于测试与示例直接使用。
package logger

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	global *zap.Logger
	sugar  *zap.SugaredLogger
	once   sync.Once
)

// Init 初始化全局日志器。level ∈ {debug, info, warn, error}，format ∈
// {json, console}；重复调用只有第一次生效。
func Init(level, format string) error {
	var err error
	once.Do(func() {
		err = build(level, format)
	})
	return err
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func build(level, format string) error {
	var encoder zapcore.Encoder
	if format == "json" {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "time"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.TimeKey = "time"
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("[2006-01-02 15:04:05]")
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.ConsoleSeparator = " "
		encoder = zapcore.NewConsoleEncoder(cfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), parseLevel(level))
	global = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	sugar = global.Sugar()
	return nil
}

// Get 返回全局 Logger，必要时用默认配置惰性初始化。
func Get() *zap.Logger {
	if global == nil {
		Init("info", "console")
	}
	return global
}

// Sugar 返回全局 SugaredLogger。
func Sugar() *zap.SugaredLogger {
	if sugar == nil {
		Init("info", "console")
	}
	return sugar
}

// Sync 刷新日志缓冲。Sync 写 stdout 在部分平台会报错且可能阻塞，
// 这里限定 200ms 超时后放弃。
func Sync() {
	if global == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		_ = global.Sync()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
	}
}

// 包级便捷函数；AddCallerSkip(1) 让 caller 字段指向调用方而不是本包。

func Debug(msg string, fields ...zap.Field) {
	Get().WithOptions(zap.AddCallerSkip(1)).Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	Get().WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	Get().WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	Get().WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	Get().WithOptions(zap.AddCallerSkip(1)).Fatal(msg, fields...)
}

// With 返回附带固定字段的派生 Logger。
func With(fields ...zap.Field) *zap.Logger {
	return Get().With(fields...)
}

// Named 返回命名的派生 Logger。
func Named(name string) *zap.Logger {
	return Get().Named(name)
}

// 字段构造器再导出，调用方不必同时引入 zap。
var (
	String   = zap.String
	Int      = zap.Int
	Int64    = zap.Int64
	Uint32   = zap.Uint32
	Uint64   = zap.Uint64
	Float64  = zap.Float64
	Bool     = zap.Bool
	Duration = zap.Duration
	Time     = zap.Time
	Err      = zap.Error
	Any      = zap.Any
	Binary   = zap.Binary
)
