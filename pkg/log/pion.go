package log

import (
	"github.com/pion/logging"
)

// ZerologFactory implements logging.LoggerFactory on top of the package
// logger, so pion-style components share the same sink.
type ZerologFactory struct{}

// NewPionLoggerFactory returns a logging.LoggerFactory backed by zerolog
func NewPionLoggerFactory() logging.LoggerFactory {
	return &ZerologFactory{}
}

// NewLogger returns a leveled logger scoped by name
func (f *ZerologFactory) NewLogger(scope string) logging.LeveledLogger {
	return &zerologLeveled{scope: scope}
}

type zerologLeveled struct {
	scope string
}

func (l *zerologLeveled) Trace(msg string) { Tracef("[%s] %s", l.scope, msg) }
func (l *zerologLeveled) Tracef(format string, args ...interface{}) {
	Tracef("["+l.scope+"] "+format, args...)
}
func (l *zerologLeveled) Debug(msg string) { Debugf("[%s] %s", l.scope, msg) }
func (l *zerologLeveled) Debugf(format string, args ...interface{}) {
	Debugf("["+l.scope+"] "+format, args...)
}
func (l *zerologLeveled) Info(msg string) { Infof("[%s] %s", l.scope, msg) }
func (l *zerologLeveled) Infof(format string, args ...interface{}) {
	Infof("["+l.scope+"] "+format, args...)
}
func (l *zerologLeveled) Warn(msg string) { Warnf("[%s] %s", l.scope, msg) }
func (l *zerologLeveled) Warnf(format string, args ...interface{}) {
	Warnf("["+l.scope+"] "+format, args...)
}
func (l *zerologLeveled) Error(msg string) { Errorf("[%s] %s", l.scope, msg) }
func (l *zerologLeveled) Errorf(format string, args ...interface{}) {
	Errorf("["+l.scope+"] "+format, args...)
}
