// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import "go.uber.org/zap"

// Logger is the logging sink the core consumes, specified by interface
// only per spec.md §1 ("the logging sink" is an external collaborator).
// It generalizes the teacher's *log.Logger field/logf helper so any
// backend — zap, logrus, stdlib log — can be plugged in.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

func nopLoggerIfNil(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}

// ZapLogger adapts *zap.SugaredLogger to the Logger interface. Grounded on
// the rinzlerlabs/gomodbus transports and servers (other_examples/), which
// are the only Modbus-domain examples in the retrieval pack and all take a
// *zap.Logger as their logging sink.
type ZapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger wraps a *zap.Logger for use as a modbus.Logger.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{s: l.Sugar()}
}

func (z *ZapLogger) Debugf(format string, args ...interface{}) { z.s.Debugf(format, args...) }
func (z *ZapLogger) Infof(format string, args ...interface{})  { z.s.Infof(format, args...) }
func (z *ZapLogger) Warnf(format string, args ...interface{})  { z.s.Warnf(format, args...) }
func (z *ZapLogger) Errorf(format string, args ...interface{}) { z.s.Errorf(format, args...) }
