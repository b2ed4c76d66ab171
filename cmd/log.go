package main

import (
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

func levelOption(lvl string) (level.Option, error) {
	switch lvl {
	case "debug":
		return level.AllowDebug(), nil
	case "info":
		return level.AllowInfo(), nil
	case "warn":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	}
	return nil, errors.Errorf("unrecognized log level %q", lvl)
}

// NewLogger builds the process logger: logfmt or JSON lines filtered by
// level, with UTC timestamps and the caller.
func NewLogger(cfg LogConfig, w io.Writer) (log.Logger, error) {
	opt, err := levelOption(cfg.Level)
	if err != nil {
		return nil, err
	}

	var logger log.Logger
	switch cfg.Format {
	case "json":
		logger = log.NewJSONLogger(log.NewSyncWriter(w))
	case "logfmt", "":
		logger = log.NewLogfmtLogger(log.NewSyncWriter(w))
	default:
		return nil, errors.Errorf("unsupported log format %q", cfg.Format)
	}

	logger = level.NewFilter(logger, opt)
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller), nil
}
