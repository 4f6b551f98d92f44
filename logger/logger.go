/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package logger is the structured logging surface every other package
// logs through: one small interface over logrus, with fields for the
// reactor/session/stream identifiers that make a multi-threaded event
// loop's log lines traceable back to one descriptor or session.
package logger

import (
	"io"
	"os"
	"sync"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/sirupsen/logrus"
)

// Level mirrors logrus.Level's ordering but keeps callers from importing
// logrus directly, the same boundary spec §1 draws around crypto/transport.
type Level uint32

const (
	PanicLevel Level = iota
	FatalLevel
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
	TraceLevel
)

func (l Level) logrus() logrus.Level { return logrus.Level(l) }

// Fields is one log entry's structured key/value payload.
type Fields map[string]interface{}

// Logger is the logging surface the endpoint, reactor, and transport
// packages take as a dependency; nil is always a valid Logger (every
// method becomes a no-op), so components never need a nil check.
type Logger interface {
	SetLevel(lvl Level)
	GetLevel() Level

	WithFields(f Fields) Logger

	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, err error, f Fields)
	Fatal(msg string, err error, f Fields)

	// Std returns an hclog.Logger adapter, for the rare dependency (e.g.
	// a vendored library) that insists on that interface rather than
	// taking ours.
	Std() hclog.Logger
}

type logger struct {
	mu  sync.Mutex
	log *logrus.Logger
	fld logrus.Fields
}

// New builds a Logger writing formatted entries to w (os.Stderr if nil),
// starting at lvl.
func New(w io.Writer, lvl Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(lvl.logrus())
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logger{log: l, fld: logrus.Fields{}}
}

func (o *logger) SetLevel(lvl Level) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.log.SetLevel(lvl.logrus())
}

func (o *logger) GetLevel() Level {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Level(o.log.GetLevel())
}

func (o *logger) WithFields(f Fields) Logger {
	o.mu.Lock()
	defer o.mu.Unlock()
	merged := make(logrus.Fields, len(o.fld)+len(f))
	for k, v := range o.fld {
		merged[k] = v
	}
	for k, v := range f {
		merged[k] = v
	}
	return &logger{log: o.log, fld: merged}
}

func (o *logger) entry() *logrus.Entry {
	return o.log.WithFields(o.fld)
}

func (o *logger) Debug(msg string, f Fields) { o.entry().WithFields(logrus.Fields(f)).Debug(msg) }
func (o *logger) Info(msg string, f Fields)  { o.entry().WithFields(logrus.Fields(f)).Info(msg) }
func (o *logger) Warn(msg string, f Fields)  { o.entry().WithFields(logrus.Fields(f)).Warn(msg) }

func (o *logger) Error(msg string, err error, f Fields) {
	e := o.entry().WithFields(logrus.Fields(f))
	if err != nil {
		e = e.WithError(err)
	}
	e.Error(msg)
}

func (o *logger) Fatal(msg string, err error, f Fields) {
	e := o.entry().WithFields(logrus.Fields(f))
	if err != nil {
		e = e.WithError(err)
	}
	e.Fatal(msg)
}

func (o *logger) Std() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "streamcore",
		Level:  hclogLevel(o.GetLevel()),
		Output: o.log.Out,
	})
}

func hclogLevel(lvl Level) hclog.Level {
	switch lvl {
	case PanicLevel, FatalLevel, ErrorLevel:
		return hclog.Error
	case WarnLevel:
		return hclog.Warn
	case InfoLevel:
		return hclog.Info
	case DebugLevel:
		return hclog.Debug
	case TraceLevel:
		return hclog.Trace
	default:
		return hclog.Info
	}
}

// Nop is a Logger that discards everything, for call sites that require
// a non-nil Logger but the application configured none.
func Nop() Logger { return New(io.Discard, PanicLevel) }
