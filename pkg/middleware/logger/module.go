package logger

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/joeydtaylor/hermes/pkg/config"
)

var Module = fx.Options(
	fx.Provide(ProvideLoggerMiddleware),
	fx.Provide(ProvideLogger),
)

func optionsFrom(cfg *config.Config) Options {
	return Options{Dir: cfg.LogDir, Level: cfg.LogLevel, Format: cfg.LogFormat}
}

func ProvideLoggerMiddleware(cfg *config.Config) *Middleware {
	return New(NewLog(optionsFrom(cfg), "http-access.log"))
}

func ProvideLogger(cfg *config.Config) *zap.Logger {
	return NewLog(optionsFrom(cfg), "system.log")
}
