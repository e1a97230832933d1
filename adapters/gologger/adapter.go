package gologger

import (
	"fmt"
	"io"
	"os"
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const DefaultLoggerName = "accountlink"

// ProviderOptions map the binary's log section onto glog options.
type ProviderOptions struct {
	Level  string
	JSON   bool
	Writer io.Writer
}

// ParseLevel normalizes a configured level to a glog level name.
func ParseLevel(value string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return glog.Info, nil
	case "trace":
		return glog.Trace, nil
	case "debug":
		return glog.Debug, nil
	case "warn", "warning":
		return glog.Warn, nil
	case "error":
		return glog.Error, nil
	default:
		return "", fmt.Errorf("gologger: invalid log level %q", value)
	}
}

// NewProvider builds the root glog logger. It also serves as the provider
// for named component loggers. Output defaults to stderr so command
// results on stdout stay clean.
func NewProvider(opts ProviderOptions) (*glog.BaseLogger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}
	format := glog.WithLoggerTypeConsole()
	if opts.JSON {
		format = glog.WithLoggerTypeJSON()
	}
	return glog.NewLogger(
		glog.WithLevel(level),
		format,
		glog.WithWriter(writer),
		glog.WithFatalBehavior(glog.FatalBehaviorLogOnly),
	), nil
}

// Resolve picks provider, then logger, then a nop logger. An empty name
// resolves under DefaultLoggerName.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultLoggerName
	}
	return glog.Resolve(name, provider, logger)
}

// Named returns the logger of a sub-component, e.g. "gateway" resolves
// accountlink.gateway.
func Named(provider glog.LoggerProvider, component string) glog.Logger {
	if provider == nil {
		return glog.Nop()
	}
	component = strings.Trim(strings.TrimSpace(component), ".")
	if component == "" {
		return provider.GetLogger(DefaultLoggerName)
	}
	return provider.GetLogger(DefaultLoggerName + "." + component)
}

// JobBridge exposes resolved loggers through the go-job logging contracts.
type JobBridge struct {
	Provider glog.LoggerProvider
	Logger   glog.Logger
}

func NewJobBridge(name string, provider glog.LoggerProvider, logger glog.Logger) JobBridge {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return JobBridge{Provider: resolvedProvider, Logger: resolvedLogger}
}

func (b JobBridge) JobProvider() job.LoggerProvider {
	if b.Provider == nil {
		return nil
	}
	return job.GoLoggerProvider(b.Provider)
}

func (b JobBridge) JobLogger() job.Logger {
	if b.Logger == nil {
		return nil
	}
	return job.GoLogger(b.Logger)
}
