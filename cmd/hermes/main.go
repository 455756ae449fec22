package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/joeydtaylor/hermes/pkg/config"
	"github.com/joeydtaylor/hermes/pkg/serverfx"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	config.LoadEnvFiles()
	fx.New(
		serverfx.Module(serverfx.Options{Service: "hermes", Version: version}),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
	).Run()
}
