package gatewayws

import (
	"github.com/sirupsen/logrus"
)

// logrusLogger adapts a logrus entry to Logger.
type logrusLogger struct {
	*logrus.Entry
}

// NewLogrusLogger wraps l so it can be handed to any component of this package.
func NewLogrusLogger(l *logrus.Logger) Logger {
	return logrusLogger{Entry: logrus.NewEntry(l)}
}

func (l logrusLogger) WithField(key string, value any) Logger {
	return logrusLogger{Entry: l.Entry.WithField(key, value)}
}

// ParseLogLevel maps a textual level to logrus, defaulting to info on empty input.
func ParseLogLevel(raw string) (logrus.Level, error) {
	if raw == "" {
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(raw)
}
