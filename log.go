package mortality

import (
	"io"

	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

func init() {
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetLogLevel adjusts package logging; unknown levels leave it unchanged.
func SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(lvl)
	return nil
}

func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
}

func Logger() *logrus.Logger {
	return logger
}
