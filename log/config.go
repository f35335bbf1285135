package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultLogMaxSize = 300 // MB
)

// FileLogConfig configures the rotated log file.
type FileLogConfig struct {
	// RootPath is the directory holding the log file.
	RootPath string `toml:"rootpath" json:"rootpath" mapstructure:"rootpath"`
	// Filename is the log file name, empty disables file logging.
	Filename string `toml:"filename" json:"filename" mapstructure:"filename"`
	// MaxSize is the size in MB at which the file is rotated.
	MaxSize int `toml:"max-size" json:"max-size" mapstructure:"max-size"`
	// MaxDays is how long rotated files are kept, 0 keeps them forever.
	MaxDays int `toml:"max-days" json:"max-days" mapstructure:"max-days"`
	// MaxBackups is how many rotated files are kept.
	MaxBackups int `toml:"max-backups" json:"max-backups" mapstructure:"max-backups"`
}

// Config is the serializable logging configuration.
type Config struct {
	// Level is one of debug, info, warn, error, fatal.
	Level string `toml:"level" json:"level" mapstructure:"level"`
	// Format is json or console.
	Format string `toml:"format" json:"format" mapstructure:"format"`
	// Stdout enables output to standard output.
	Stdout bool `toml:"stdout" json:"stdout" mapstructure:"stdout"`
	// File configures file output.
	File FileLogConfig `toml:"file" json:"file" mapstructure:"file"`
	// Development switches DPanic to panic and records stacks from warn up.
	Development bool `toml:"development" json:"development" mapstructure:"development"`
	// DisableCaller drops file:line annotations.
	DisableCaller bool `toml:"disable-caller" json:"disable-caller" mapstructure:"disable-caller"`
	// DisableStacktrace turns off automatic stack capture.
	DisableStacktrace bool `toml:"disable-stacktrace" json:"disable-stacktrace" mapstructure:"disable-stacktrace"`
	// RatedLogPerSecond bounds the rated helpers (RatedInfo, RatedWarn...), 0 disables the bound.
	RatedLogPerSecond float64 `toml:"rated-log-per-second" json:"rated-log-per-second" mapstructure:"rated-log-per-second"`
}

// ZapProperties records the core pieces of a built logger.
type ZapProperties struct {
	Core   zapcore.Core
	Syncer zapcore.WriteSyncer
	Level  zap.AtomicLevel
}

func (cfg *Config) encoder() zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Format == "json" {
		return zapcore.NewJSONEncoder(encCfg)
	}
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(encCfg)
}

func (cfg *Config) buildOptions(errSink zapcore.WriteSyncer) []zap.Option {
	opts := []zap.Option{zap.ErrorOutput(errSink)}

	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	if !cfg.DisableCaller {
		opts = append(opts, zap.AddCaller())
	}

	stackLevel := zap.ErrorLevel
	if cfg.Development {
		stackLevel = zap.WarnLevel
	}
	if !cfg.DisableStacktrace {
		opts = append(opts, zap.AddStacktrace(stackLevel))
	}
	return opts
}
