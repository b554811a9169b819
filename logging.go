package auth

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
)

func defaultLogger() Logger {
	return glog.NewLogger(
		glog.WithName("auth"),
		glog.WithLevel(glog.Info),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	).GetLogger("auth")
}

func normalizeLogger(logger Logger) Logger {
	if logger == nil {
		return defaultLogger()
	}
	return logger
}
