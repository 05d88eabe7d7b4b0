//go:build govips && cgo

package pipeline

import (
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
	"go.uber.org/zap"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

// Startup boots libvips once per process and forwards its log output to
// logger.
func Startup(logger *zap.Logger) error {
	startupOnce.Do(func() {
		vips.LoggingSettings(vipsLogHandler(logger.Named("vips")), vips.LogLevelWarning)
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
		logger.Info("image runtime started", zap.String("transformer", "govips"))
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func vipsLogHandler(logger *zap.Logger) vips.LoggingHandlerFunction {
	return func(domain string, level vips.LogLevel, msg string) {
		fields := []zap.Field{zap.String("domain", domain)}
		switch level {
		case vips.LogLevelError, vips.LogLevelCritical:
			logger.Error(msg, fields...)
		case vips.LogLevelWarning:
			logger.Warn(msg, fields...)
		case vips.LogLevelDebug:
			logger.Debug(msg, fields...)
		default:
			logger.Info(msg, fields...)
		}
	}
}

func newTransformer(opts Options) Transformer {
	return govipsTransformer{opts: opts}
}
