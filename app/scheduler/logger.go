package scheduler

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/amirphl/funnel-campaigns/config"
)

// NewSchedulerLogger writes to stdout and, unless output is stdout only, to a rotating file
func NewSchedulerLogger(cfg config.LoggingConfig) (*log.Logger, io.Closer) {
	flags := log.LstdFlags | log.Lmicroseconds | log.LUTC
	if cfg.Output == "stdout" || cfg.FilePath == "" {
		return log.New(os.Stdout, "scheduler ", flags), io.NopCloser(nil)
	}

	file := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	var w io.Writer = file
	if cfg.Output != "file" {
		w = io.MultiWriter(os.Stdout, file)
	}
	return log.New(w, "scheduler ", flags), file
}
