package log

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"
)

var _globalL, _globalP, _globalS, _globalR atomic.Value

// RateLimiter is the minimal interface used by rated logging helpers.
type RateLimiter interface {
	CheckCredit(cost float64) bool
}

// nopRateLimiter never drops logs.
type nopRateLimiter struct{}

func (nopRateLimiter) CheckCredit(float64) bool { return true }

// tokenRateLimiter spends cost tokens per log line from a token bucket.
type tokenRateLimiter struct {
	l *rate.Limiter
}

// NewRateLimiter allows perSecond credits per second with a burst of maxBalance.
func NewRateLimiter(perSecond, maxBalance float64) RateLimiter {
	return &tokenRateLimiter{l: rate.NewLimiter(rate.Limit(perSecond), int(math.Max(1, maxBalance)))}
}

func (r *tokenRateLimiter) CheckCredit(cost float64) bool {
	return r.l.AllowN(time.Now(), int(math.Ceil(cost)))
}

func init() {
	conf := &Config{Level: "info", Stdout: true}
	l, p, _ := InitLogger(conf)
	ReplaceGlobals(l, p)
	_globalR.Store(RateLimiter(nopRateLimiter{}))
}

// InitLogger builds a zap logger from cfg writing to stdout and/or a rotated file.
func InitLogger(cfg *Config, opts ...zap.Option) (*zap.Logger, *ZapProperties, error) {
	var outputs []zapcore.WriteSyncer
	if len(cfg.File.Filename) > 0 {
		lg, err := initFileLog(&cfg.File)
		if err != nil {
			return nil, nil, err
		}
		outputs = append(outputs, zapcore.AddSync(lg))
	}
	if cfg.Stdout || len(outputs) == 0 {
		outputs = append(outputs, zapcore.Lock(os.Stdout))
	}
	return InitLoggerWithWriteSyncer(cfg, zap.CombineWriteSyncers(outputs...), opts...)
}

// InitLoggerWithWriteSyncer builds a zap logger writing to output.
func InitLoggerWithWriteSyncer(cfg *Config, output zapcore.WriteSyncer, opts ...zap.Option) (*zap.Logger, *ZapProperties, error) {
	level := zap.NewAtomicLevel()
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, nil, errors.Wrapf(err, "parse log level %q", cfg.Level)
		}
	}
	core := zapcore.NewCore(cfg.encoder(), output, level)
	opts = append(cfg.buildOptions(output), opts...)
	lg := zap.New(core, opts...)
	return lg, &ZapProperties{
		Core:   core,
		Syncer: output,
		Level:  level,
	}, nil
}

// InitTestLogger returns a logger that writes through t.Log.
func InitTestLogger(t zaptest.TestingT, cfg *Config) *zap.Logger {
	level := zapcore.DebugLevel
	if cfg != nil && cfg.Level != "" {
		_ = level.UnmarshalText([]byte(cfg.Level))
	}
	return zaptest.NewLogger(t, zaptest.Level(level))
}

// Setup builds a logger from cfg and installs it as the global one.
func Setup(cfg *Config) error {
	l, p, err := InitLogger(cfg)
	if err != nil {
		return err
	}
	ReplaceGlobals(l, p)
	if cfg.RatedLogPerSecond > 0 {
		ReplaceRateLimiter(NewRateLimiter(cfg.RatedLogPerSecond, cfg.RatedLogPerSecond))
	}
	return nil
}

// initFileLog initializes file based logging options.
func initFileLog(cfg *FileLogConfig) (*lumberjack.Logger, error) {
	logPath := filepath.Join(cfg.RootPath, cfg.Filename)
	if st, err := os.Stat(logPath); err == nil {
		if st.IsDir() {
			return nil, errors.New("can't use directory as log file name")
		}
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = defaultLogMaxSize
	}

	// use lumberjack to logrotate
	return &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxDays,
		LocalTime:  true,
	}, nil
}

// L returns the global Logger. It's safe for concurrent use.
func L() *zap.Logger {
	return _globalL.Load().(*zap.Logger)
}

// S returns the global SugaredLogger. It's safe for concurrent use.
func S() *zap.SugaredLogger {
	return _globalS.Load().(*zap.SugaredLogger)
}

// R returns the global RateLimiter used by rated logging helpers.
func R() RateLimiter {
	return _globalR.Load().(RateLimiter)
}

// ReplaceGlobals replaces the global Logger and SugaredLogger.
func ReplaceGlobals(logger *zap.Logger, props *ZapProperties) {
	_globalL.Store(logger)
	_globalS.Store(logger.Sugar())
	if props != nil {
		_globalP.Store(props)
	}
}

// ReplaceRateLimiter swaps the limiter behind the rated helpers.
func ReplaceRateLimiter(r RateLimiter) {
	_globalR.Store(r)
}

// Sync flushes any buffered log entries.
func Sync() error {
	return L().Sync()
}

// SetLevel changes the level of the global logger.
func SetLevel(l zapcore.Level) {
	_globalP.Load().(*ZapProperties).Level.SetLevel(l)
}

// GetLevel returns the level of the global logger.
func GetLevel() zapcore.Level {
	return _globalP.Load().(*ZapProperties).Level.Level()
}
