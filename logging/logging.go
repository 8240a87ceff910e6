// Package logging wraps logrus the way nabbar-golib/logger wraps it: a
// small field-oriented facade so the rest of the module never imports
// logrus directly, and a bridge to *log.Logger for collaborators that only
// know the standard library logger interface.
package logging

import (
	"io"
	"log"

	"github.com/sirupsen/logrus"
)

// Fields is a shorthand for structured log attributes.
type Fields = logrus.Fields

// Logger is the facade the rest of the module depends on.
type Logger interface {
	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type entry struct {
	e *logrus.Entry
}

func (l entry) WithField(key string, value interface{}) Logger {
	return entry{e: l.e.WithField(key, value)}
}

func (l entry) WithFields(fields Fields) Logger {
	return entry{e: l.e.WithFields(fields)}
}

func (l entry) WithError(err error) Logger {
	return entry{e: l.e.WithError(err)}
}

func (l entry) Debugf(format string, args ...interface{}) { l.e.Debugf(format, args...) }
func (l entry) Infof(format string, args ...interface{})  { l.e.Infof(format, args...) }
func (l entry) Warnf(format string, args ...interface{})  { l.e.Warnf(format, args...) }
func (l entry) Errorf(format string, args ...interface{}) { l.e.Errorf(format, args...) }

var base = logrus.New()

// Default returns the package-wide logger, component-tagged.
func Default(component string) Logger {
	return entry{e: base.WithField("component", component)}
}

// SetOutput redirects every logger produced by this package.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// SetLevel parses and applies a logrus level name (e.g. "debug", "warn").
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	base.SetLevel(lvl)
	return nil
}

// StdLogger adapts this package's logger to *log.Logger, the way
// nabbar-golib/logger.GetStdLogger hands a standard logger to code that
// cannot take a structured one. Every line goes to the package-wide logger
// at lvl; component is not used.
func StdLogger(component string, lvl logrus.Level) *log.Logger {
	w := base.WriterLevel(lvl)
	l := log.New(w, "", 0)
	_ = component
	return l
}
