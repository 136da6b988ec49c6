package daemon

import (
	"log"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileLogger returns a logger writing to a size-rotated file. Long
// running daemons use it so their output outlives the terminal that
// started them.
func FileLogger(path string) *log.Logger {
	return log.New(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}, "[daemon] ", log.LstdFlags)
}
