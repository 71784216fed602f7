package config

import (
	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"
	"os"
)

func NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		DisableColors: false,
		FullTimestamp: true,
	})
	log.SetReportCaller(false)
	log.SetLevel(logrus.InfoLevel)
	// Output to stdout instead of the default stderr
	log.SetOutput(os.Stdout)

	return log
}

// EnableFileLogging redirects the logger into a rotating log file.
func EnableFileLogging(log *logrus.Logger, fileName string) {
	rotator := &lumberjack.Logger{
		Filename:   fileName,
		MaxSize:    10, // megabytes
		MaxBackups: 7,
		MaxAge:     7, // days
		Compress:   true,
	}

	log.SetOutput(rotator)
	log.SetFormatter(&logrus.TextFormatter{
		DisableColors: true,
		FullTimestamp: true,
	})
}
