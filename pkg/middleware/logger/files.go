package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options select where and how logs are written.
type Options struct {
	Dir    string // default "log"
	Level  string // debug|info|warn|error
	Format string // json|pretty (console output only; files stay JSON)
}

func (o Options) dir() string {
	if o.Dir == "" {
		return "log"
	}
	return o.Dir
}

func (o Options) level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(o.Level)
	if err != nil {
		return zap.InfoLevel
	}
	return lvl
}

// NewLog tees JSON to a rotated file named n under the log dir and to stdout.
func NewLog(o Options, n string) *zap.Logger {
	dir := o.dir()
	_ = os.MkdirAll(dir, 0o755)

	cfg := zap.NewProductionEncoderConfig()
	cfg.MessageKey = zapcore.OmitKey

	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(dir, n),
		MaxSize:    50, // MB
		MaxBackups: 3,
		MaxAge:     7, // days
	})

	console := zapcore.NewJSONEncoder(cfg)
	if o.Format == "pretty" {
		pc := zap.NewDevelopmentEncoderConfig()
		pc.EncodeTime = zapcore.ISO8601TimeEncoder
		console = zapcore.NewConsoleEncoder(pc)
	}

	lvl := o.level()
	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(cfg), w, lvl),
		zapcore.NewCore(console, zapcore.Lock(os.Stdout), lvl),
	)
	return zap.New(core)
}
