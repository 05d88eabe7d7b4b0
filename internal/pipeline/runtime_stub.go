//go:build !govips || !cgo

package pipeline

import "go.uber.org/zap"

func Startup(logger *zap.Logger) error {
	logger.Info("image runtime started", zap.String("transformer", "imaging"))
	return nil
}

func Shutdown() {}

func newTransformer(opts Options) Transformer {
	return stdlibTransformer{opts: opts}
}
