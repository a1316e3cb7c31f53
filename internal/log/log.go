/*
Package log holds the logger used inside the debmeta library packages.

Library code logs through the helpers of this package. Nothing is printed
until a program installs a logger with Set; the debmeta command does so from
its global flags.
*/
package log

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// log is the singleton used by the library packages, guarded by mu.
var log logrus.FieldLogger = discard()

var mu sync.RWMutex

func discard() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Set installs l as the library logger. A nil logger restores the silent
// default. It may be called while other goroutines log.
func Set(l logrus.FieldLogger) {
	if l == nil {
		l = discard()
	}
	mu.Lock()
	log = l
	mu.Unlock()
}

// Get returns the current library logger.
func Get() logrus.FieldLogger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// WithFields returns an entry carrying the given structured fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Get().WithFields(fields)
}

// Errorf takes a formatted template string and template arguments for the error logging level.
func Errorf(format string, args ...interface{}) {
	Get().Errorf(format, args...)
}

// Warnf takes a formatted template string and template arguments for the warning logging level.
func Warnf(format string, args ...interface{}) {
	Get().Warnf(format, args...)
}

// Infof takes a formatted template string and template arguments for the info logging level.
func Infof(format string, args ...interface{}) {
	Get().Infof(format, args...)
}

// Debugf takes a formatted template string and template arguments for the debug logging level.
func Debugf(format string, args ...interface{}) {
	Get().Debugf(format, args...)
}
