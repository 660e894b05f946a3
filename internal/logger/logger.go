// Package logger builds the zap logger of the countdistinct command.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	// Path is stderr, stdout, /dev/null or a file name.
	Path string `toml:"path"`
	// If Path is a file, Mode determines how the file is managed.
	Mode  FileMode      `toml:"mode"`
	Level zapcore.Level `toml:"level"`
	// Development switches to a human readable console encoding.
	Development bool `toml:"development"`
}

// DefaultConfig logs at info level to stderr.
func DefaultConfig() Config {
	return Config{
		Path:  "stderr",
		Mode:  FileModeAppend,
		Level: zapcore.InfoLevel,
	}
}

func NewCore(conf Config) (zapcore.Core, error) {
	w, err := OpenFile(conf.Path, conf.Mode)
	if err != nil {
		return nil, err
	}
	enc := jsonEncoder()
	if conf.Development {
		enc = consoleEncoder()
	}
	return zapcore.NewCore(enc, w, conf.Level), nil
}

// New returns a logger writing to the sink described by conf.
func New(conf Config) (*zap.Logger, error) {
	core, err := NewCore(conf)
	if err != nil {
		return nil, err
	}
	var opts []zap.Option
	if conf.Development {
		opts = append(opts, zap.Development(), zap.AddCaller())
	}
	return zap.New(core, opts...), nil
}

func jsonEncoder() zapcore.Encoder {
	conf := zap.NewProductionEncoderConfig()
	conf.CallerKey = ""
	conf.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(conf)
}

func consoleEncoder() zapcore.Encoder {
	return zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
}
