// SPDX-License-Identifier: GPL-3.0-or-later
package log

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

var loggers map[string]*logrus.Logger

func NewPrefixLogger(prefix string, colors bool) *PrefixLogger {
	stringPrefix := fmt.Sprintf("%s:\t", prefix)

	formatter := &logrus.TextFormatter{}
	formatter.FullTimestamp = true
	formatter.TimestampFormat = "2006-01-02 15:04:05"
	formatter.DisableColors = !colors || strings.Contains(runtime.GOOS, "windows")
	return &PrefixLogger{
		formatter,
		[]byte(stringPrefix),
	}
}

type PrefixLogger struct {
	formatter logrus.Formatter
	prefix    []byte
}

func (f *PrefixLogger) Format(entry *logrus.Entry) ([]byte, error) {
	text, err := f.formatter.Format(entry)
	if err != nil {
		return nil, err
	}
	return append(f.prefix, text...), nil
}

const (
	LOG_MAIN        = "MA"
	LOG_SESSION     = "SE"
	LOG_MAILBOX     = "MB"
	LOG_FETCH       = "FE"
	LOG_FLAG        = "FL"
	LOG_GATEWAY     = "GW"
	LOG_DELIVERY    = "DE"
	LOG_PERSISTENCE = "PI"
	LOG_CLASSIFIER  = "CL"
	LOG_IMAP        = "IM"
)

var prefixes = []string{
	LOG_MAIN,
	LOG_SESSION,
	LOG_MAILBOX,
	LOG_FETCH,
	LOG_FLAG,
	LOG_GATEWAY,
	LOG_DELIVERY,
	LOG_PERSISTENCE,
	LOG_CLASSIFIER,
	LOG_IMAP,
}

func getLevel(loglevel string) logrus.Level {
	switch strings.ToLower(loglevel) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "panic":
		return logrus.PanicLevel
	case "fatal":
		return logrus.FatalLevel
	}

	// Info is default
	return logrus.InfoLevel
}

func initLogger(prefix, loglevel string, out io.Writer, colors bool) {
	l := logrus.New()
	l.Level = getLevel(loglevel)
	l.Formatter = NewPrefixLogger(prefix, colors)
	l.Out = out
	loggers[prefix] = l
}

// InitLogging sets up every component logger writing to stderr.
func InitLogging(loglevel string) {
	initLogging(loglevel, os.Stderr, true)
}

func initLogging(loglevel string, out io.Writer, colors bool) {
	loggers = make(map[string]*logrus.Logger)
	for _, prefix := range prefixes {
		initLogger(prefix, loglevel, out, colors)
	}
}

// OpenLogFile redirects all component loggers to the operational log file.
// The returned closer should be closed on shutdown.
func OpenLogFile(filename string) (io.Closer, error) {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("could not open log file: %w", err)
	}

	for prefix, l := range loggers {
		l.Out = f
		l.Formatter = NewPrefixLogger(prefix, false)
	}

	return f, nil
}

func SetLogLevel(loglevel string) {
	for _, v := range loggers {
		v.Level = getLevel(loglevel)
	}
}

func Logger(logger string) *logrus.Logger {
	if loggers == nil {
		InitLogging("info")
	}

	l, ok := loggers[logger]
	if !ok {
		panic("Logger " + logger + " unknown")
	}

	return l
}
