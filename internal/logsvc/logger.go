package logsvc

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/rollbar/rollbar-go"
)

// Logger is the logging surface used by the batch and HTTP layers.
// Messages are lowercase with key=value pairs, same as the rest of the service.
type Logger interface {
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

type StdLogger struct {
	std *log.Logger
}

var _ Logger = (*StdLogger)(nil)

func NewStdLogger(std *log.Logger) *StdLogger {
	if std == nil {
		std = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &StdLogger{std: std}
}

func (l *StdLogger) Info(format string, args ...interface{}) {
	l.std.Printf(format, args...)
}

func (l *StdLogger) Warn(format string, args ...interface{}) {
	l.std.Printf("warning: "+format, args...)
}

func (l *StdLogger) Error(format string, args ...interface{}) {
	l.std.Printf("error: "+format, args...)
}

// RollbarLogger prints like StdLogger and also ships warnings and errors to Rollbar.
type RollbarLogger struct {
	*StdLogger
}

var _ Logger = (*RollbarLogger)(nil)

type RollbarOptions struct {
	Token       string
	Environment string
}

func NewRollbarLogger(std *log.Logger, opts RollbarOptions) *RollbarLogger {
	rollbar.SetToken(opts.Token)
	rollbar.SetEnvironment(opts.Environment)
	if host, err := os.Hostname(); err == nil {
		rollbar.SetServerHost(host)
	}
	rollbar.SetEnabled(true)
	return &RollbarLogger{StdLogger: NewStdLogger(std)}
}

func (l *RollbarLogger) Warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	rollbar.Warning(msg)
	l.StdLogger.Warn("%s", msg)
}

func (l *RollbarLogger) Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	rollbar.Error(msg)
	l.StdLogger.Error("%s", msg)
}

// Close flushes queued Rollbar items.
func (l *RollbarLogger) Close() {
	rollbar.Close()
}

// New picks the Rollbar logger when a token is configured.
func New(std *log.Logger, rollbarToken, env string) Logger {
	if strings.TrimSpace(rollbarToken) == "" {
		return NewStdLogger(std)
	}
	return NewRollbarLogger(std, RollbarOptions{Token: rollbarToken, Environment: env})
}

// Discard is handy in tests.
type Discard struct{}

func (Discard) Info(string, ...interface{})  {}
func (Discard) Warn(string, ...interface{})  {}
func (Discard) Error(string, ...interface{}) {}
