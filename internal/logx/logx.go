package logx

import (
	"os"

	"go.uber.org/zap"
)

// New builds the process logger. LOG_DEV=1 switches to the human-readable
// development encoder.
func New() *zap.SugaredLogger {
	var l *zap.Logger
	var err error
	if os.Getenv("LOG_DEV") == "1" {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		// zap only fails on bad config; fall back to a no-op rather than abort.
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}
