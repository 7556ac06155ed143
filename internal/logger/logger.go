// Package logger provides a singleton zap logger shared by the worker
// process and its internal packages.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once     sync.Once
	instance *zap.SugaredLogger
)

// Get returns the process-wide SugaredLogger, building it on first use with
// production settings and ISO8601 timestamps.
func Get() *zap.SugaredLogger {
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		log, err := cfg.Build()
		if err != nil {
			panic(err)
		}
		instance = log.Sugar()
	})
	return instance
}

// Named returns a child logger annotated with name, e.g. "worker" or
// "table", so log lines can be filtered by component.
func Named(name string) *zap.SugaredLogger {
	return Get().Named(name)
}
