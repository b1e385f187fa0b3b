package telemetry

import (
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/open-xiv/memo-uploader/pkg/telemetry/sentry"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

type config struct {
	// OtelEnabled when false replaces the tracer with a noop implementation.
	OtelEnabled bool `env:"MEMO_OTEL_ENABLED" envDefault:"false"`

	// OtelEndpoint is the OTLP gRPC collector endpoint.
	OtelEndpoint string `env:"MEMO_OTEL_ENDPOINT" envDefault:"localhost:4317"`

	// TraceSampleRate is the sampling rate for traces (0.0 to 1.0).
	TraceSampleRate float64 `env:"MEMO_OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `env:"MEMO_LOG_LEVEL" envDefault:"info"`

	// LogFormat is one of "json", "pretty".
	LogFormat string `env:"MEMO_LOG_FORMAT" envDefault:"pretty"`

	SentryDsn string `env:"MEMO_SENTRY_DSN"`
	SentryENV string `env:"MEMO_SENTRY_ENV"`
}

func loadConfig() (config, error) {
	cfg := config{}

	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse telemetry config")
	}

	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate telemetry config")
	}

	return cfg, nil
}

func (cfg *config) validate() error {
	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil {
		return eris.Errorf("invalid log level: %s (must be 'debug', 'info', 'warn', or 'error')", cfg.LogLevel)
	}

	if ParseLogFormat(cfg.LogFormat) == LogFormatUndefined {
		return eris.Errorf("invalid log format: %s (must be 'json' or 'pretty')", cfg.LogFormat)
	}

	if cfg.OtelEnabled {
		if cfg.OtelEndpoint == "" {
			return eris.New("OTLP endpoint cannot be empty when tracing is enabled")
		}
		if cfg.TraceSampleRate < 0.0 || cfg.TraceSampleRate > 1.0 {
			return eris.New("trace sample rate must be between 0.0 and 1.0")
		}
	}

	return nil
}

func (cfg *config) applyToOptions(opt *Options) {
	opt.TracingEnabled = cfg.OtelEnabled
	opt.Endpoint = cfg.OtelEndpoint
	opt.LogLevel = strings.ToLower(cfg.LogLevel)
	opt.LogFormat = ParseLogFormat(cfg.LogFormat)
	opt.TraceSampleRate = cfg.TraceSampleRate
	opt.Sentry = sentry.Options{
		Dsn:         cfg.SentryDsn,
		Environment: cfg.SentryENV,
	}
}

// Options overrides the environment. Zero values keep what the environment set.
type Options struct {
	ServiceName     string
	ServiceVersion  string
	TracingEnabled  bool
	Endpoint        string
	LogLevel        string
	LogFormat       LogFormat
	TraceSampleRate float64
	Sentry          sentry.Options
}

func newDefaultOptions() Options {
	// ServiceName has no default so callers must name themselves.
	return Options{
		ServiceVersion:  "dev",
		LogLevel:        "info",
		LogFormat:       LogFormatPretty,
		TraceSampleRate: 1.0,
	}
}

func (opt *Options) apply(newOpt Options) {
	if newOpt.ServiceName != "" {
		opt.ServiceName = newOpt.ServiceName
	}
	if newOpt.ServiceVersion != "" {
		opt.ServiceVersion = newOpt.ServiceVersion
	}
	if newOpt.TracingEnabled {
		opt.TracingEnabled = true
	}
	if newOpt.Endpoint != "" {
		opt.Endpoint = newOpt.Endpoint
	}
	if newOpt.LogLevel != "" {
		opt.LogLevel = newOpt.LogLevel
	}
	if newOpt.LogFormat != LogFormatUndefined {
		opt.LogFormat = newOpt.LogFormat
	}
	if newOpt.TraceSampleRate != 0.0 {
		opt.TraceSampleRate = newOpt.TraceSampleRate
	}
	if newOpt.Sentry.Dsn != "" {
		opt.Sentry.Dsn = newOpt.Sentry.Dsn
	}
	if newOpt.Sentry.Tags != nil {
		opt.Sentry.Tags = newOpt.Sentry.Tags
	}
}

func (opt *Options) validate() error {
	if opt.ServiceName == "" {
		return eris.New("service name cannot be empty")
	}
	if _, err := zerolog.ParseLevel(opt.LogLevel); err != nil {
		return eris.Errorf("invalid log level: %s", opt.LogLevel)
	}
	if opt.LogFormat == LogFormatUndefined {
		return eris.New("log format must be set")
	}
	return nil
}

// LogFormat selects the log writer.
type LogFormat uint8

const (
	LogFormatUndefined LogFormat = iota
	LogFormatJSON
	LogFormatPretty
)

func ParseLogFormat(s string) LogFormat {
	switch strings.ToLower(s) {
	case "json":
		return LogFormatJSON
	case "pretty":
		return LogFormatPretty
	default:
		return LogFormatUndefined
	}
}

func (f LogFormat) String() string {
	switch f {
	case LogFormatJSON:
		return "json"
	case LogFormatPretty:
		return "pretty"
	case LogFormatUndefined:
		return "undefined"
	}
	return "undefined"
}
