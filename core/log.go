package core

import "github.com/sirupsen/logrus"

// logger is used by controllers constructed without their own logger.
var logger logrus.FieldLogger = logrus.StandardLogger()

// SetLogger replaces the package logger. Platforms call it once at startup
// to redirect driver output.
func SetLogger(l logrus.FieldLogger) {
	if l == nil {
		l = logrus.StandardLogger()
	}
	logger = l
}
