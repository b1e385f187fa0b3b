package memo

import (
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/open-xiv/memo-uploader/pkg/memo/fetch"
	"github.com/open-xiv/memo-uploader/pkg/telemetry"
	"github.com/rotisserie/eris"
)

const (
	DefaultClientName = "MemoUploader"
	minPollInterval   = 10 * time.Millisecond
)

// engineConfig holds the engine settings read from the environment.
type engineConfig struct {
	// Base URLs of the fight record service. Every request is raced across all of them.
	APIEndpoints []string `env:"MEMO_API_ENDPOINTS" envSeparator:"," envDefault:"https://api.sumemo.dev,https://sumemo.diemoe.net"`

	AuthKey    string `env:"MEMO_AUTH_KEY"`
	ClientName string `env:"MEMO_CLIENT_NAME" envDefault:"MemoUploader"`

	// UploadEnabled turns the HTTP upload of fight records on or off.
	UploadEnabled bool `env:"MEMO_UPLOAD_ENABLED" envDefault:"true"`

	AttemptTimeout time.Duration `env:"MEMO_ATTEMPT_TIMEOUT" envDefault:"2s"`
	ClientTimeout  time.Duration `env:"MEMO_CLIENT_TIMEOUT" envDefault:"5s"`
	FetchTimeout   time.Duration `env:"MEMO_FETCH_TIMEOUT" envDefault:"10s"`

	// HistorySize is how many events the diagnostic history keeps.
	HistorySize int `env:"MEMO_HISTORY_SIZE" envDefault:"1000"`

	// PollInterval is how often stateful triggers are polled without any event arriving.
	PollInterval time.Duration `env:"MEMO_POLL_INTERVAL" envDefault:"200ms"`

	// UploadGrace is how long Stop waits for in-flight uploads.
	UploadGrace time.Duration `env:"MEMO_UPLOAD_GRACE" envDefault:"3s"`

	// DutyDir is an optional directory of <zoneID>.json documents consulted before the API.
	DutyDir string `env:"MEMO_DUTY_DIR"`

	// CacheBytes sizes the in-process duty config cache. 0 disables it.
	CacheBytes int           `env:"MEMO_CACHE_BYTES" envDefault:"4194304"`
	CacheTTL   time.Duration `env:"MEMO_CACHE_TTL" envDefault:"10m"`

	RedisAddress  string `env:"MEMO_REDIS_ADDRESS"`
	RedisPassword string `env:"MEMO_REDIS_PASSWORD"`

	NATSURL     string `env:"MEMO_NATS_URL"`
	NATSSubject string `env:"MEMO_NATS_SUBJECT" envDefault:"memo.fight"`

	StatsdAddress string `env:"MEMO_STATSD_ADDRESS"`
	HTTPAddress   string `env:"MEMO_HTTP_ADDRESS" envDefault:"127.0.0.1:4399"`
}

// loadEngineConfig loads the engine configuration from environment variables.
func loadEngineConfig() (engineConfig, error) {
	cfg := engineConfig{}

	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse engine config")
	}

	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate config")
	}

	return cfg, nil
}

func (cfg *engineConfig) validate() error {
	if cfg.UploadEnabled && len(cfg.APIEndpoints) == 0 {
		return eris.New("MEMO_API_ENDPOINTS cannot be empty while uploads are enabled")
	}
	if cfg.CacheBytes < 0 {
		return eris.New("MEMO_CACHE_BYTES cannot be negative")
	}
	return nil
}

func (cfg *engineConfig) applyToOptions(opt *Options) {
	opt.Endpoints = cfg.APIEndpoints
	opt.AuthKey = cfg.AuthKey
	opt.ClientName = cfg.ClientName
	opt.DisableUpload = !cfg.UploadEnabled
	opt.AttemptTimeout = cfg.AttemptTimeout
	opt.ClientTimeout = cfg.ClientTimeout
	opt.FetchTimeout = cfg.FetchTimeout
	opt.HistorySize = cfg.HistorySize
	opt.PollInterval = cfg.PollInterval
	opt.UploadGrace = cfg.UploadGrace
	opt.DutyDir = cfg.DutyDir
	opt.CacheBytes = cfg.CacheBytes
	opt.CacheTTL = cfg.CacheTTL
	opt.RedisAddress = cfg.RedisAddress
	opt.RedisPassword = cfg.RedisPassword
	opt.NATSURL = cfg.NATSURL
	opt.NATSSubject = cfg.NATSSubject
	opt.StatsdAddress = cfg.StatsdAddress
	opt.HTTPAddress = cfg.HTTPAddress
}

// Options configures an Engine. Zero values keep what the environment set.
type Options struct {
	Endpoints      []string      // Base URLs of the fight record service
	AuthKey        string        // Sent as X-Auth-Key
	ClientName     string        // Sent as X-Client-Name
	ClientVersion  string        // Sent as X-Client-Version
	DisableUpload  bool          // Skip the HTTP upload of fight records
	AttemptTimeout time.Duration // Timeout of a single raced request
	ClientTimeout  time.Duration // Timeout of the HTTP client as a whole
	FetchTimeout   time.Duration // Timeout for resolving a zone's duty config
	HistorySize    int           // Number of events kept for diagnostics
	PollInterval   time.Duration // Interval between stateful trigger polls
	UploadGrace    time.Duration // How long Stop waits for in-flight uploads
	DutyDir        string        // Local directory of duty documents
	CacheBytes     int           // In-process duty cache size, non-positive disables
	CacheTTL       time.Duration // TTL of cached duty documents
	RedisAddress   string        // Shared duty cache
	RedisPassword  string
	NATSURL        string // Fight record fan-out
	NATSSubject    string
	StatsdAddress  string
	HTTPAddress    string // Address of the diagnostic HTTP server

	// Fetcher replaces the fetcher chain built from the options above.
	Fetcher fetch.Fetcher
	// Uploader replaces the HTTP upload client.
	Uploader Uploader
	// Publisher replaces the NATS publisher.
	Publisher Publisher
	// Telemetry replaces the telemetry built from the environment.
	Telemetry *telemetry.Telemetry
	// Now replaces the wall clock.
	Now func() time.Time
}

func newDefaultOptions() Options {
	return Options{
		ClientName:     DefaultClientName,
		ClientVersion:  "dev",
		AttemptTimeout: 2 * time.Second,
		ClientTimeout:  5 * time.Second,
		FetchTimeout:   10 * time.Second,
		HistorySize:    1000,
		PollInterval:   200 * time.Millisecond,
		UploadGrace:    3 * time.Second,
		CacheTTL:       10 * time.Minute,
		NATSSubject:    "memo.fight",
		HTTPAddress:    "127.0.0.1:4399",
		Now:            time.Now,
	}
}

// apply merges the given options into the current options, overriding non-zero values.
func (opt *Options) apply(newOpt Options) {
	if len(newOpt.Endpoints) != 0 {
		opt.Endpoints = newOpt.Endpoints
	}
	if newOpt.AuthKey != "" {
		opt.AuthKey = newOpt.AuthKey
	}
	if newOpt.ClientName != "" {
		opt.ClientName = newOpt.ClientName
	}
	if newOpt.ClientVersion != "" {
		opt.ClientVersion = newOpt.ClientVersion
	}
	if newOpt.DisableUpload {
		opt.DisableUpload = true
	}
	if newOpt.AttemptTimeout != 0 {
		opt.AttemptTimeout = newOpt.AttemptTimeout
	}
	if newOpt.ClientTimeout != 0 {
		opt.ClientTimeout = newOpt.ClientTimeout
	}
	if newOpt.FetchTimeout != 0 {
		opt.FetchTimeout = newOpt.FetchTimeout
	}
	if newOpt.HistorySize != 0 {
		opt.HistorySize = newOpt.HistorySize
	}
	if newOpt.PollInterval != 0 {
		opt.PollInterval = newOpt.PollInterval
	}
	if newOpt.UploadGrace != 0 {
		opt.UploadGrace = newOpt.UploadGrace
	}
	if newOpt.DutyDir != "" {
		opt.DutyDir = newOpt.DutyDir
	}
	if newOpt.CacheBytes != 0 {
		opt.CacheBytes = newOpt.CacheBytes
	}
	if newOpt.CacheTTL != 0 {
		opt.CacheTTL = newOpt.CacheTTL
	}
	if newOpt.RedisAddress != "" {
		opt.RedisAddress = newOpt.RedisAddress
	}
	if newOpt.RedisPassword != "" {
		opt.RedisPassword = newOpt.RedisPassword
	}
	if newOpt.NATSURL != "" {
		opt.NATSURL = newOpt.NATSURL
	}
	if newOpt.NATSSubject != "" {
		opt.NATSSubject = newOpt.NATSSubject
	}
	if newOpt.StatsdAddress != "" {
		opt.StatsdAddress = newOpt.StatsdAddress
	}
	if newOpt.HTTPAddress != "" {
		opt.HTTPAddress = newOpt.HTTPAddress
	}
	if newOpt.Fetcher != nil {
		opt.Fetcher = newOpt.Fetcher
	}
	if newOpt.Uploader != nil {
		opt.Uploader = newOpt.Uploader
	}
	if newOpt.Publisher != nil {
		opt.Publisher = newOpt.Publisher
	}
	if newOpt.Telemetry != nil {
		opt.Telemetry = newOpt.Telemetry
	}
	if newOpt.Now != nil {
		opt.Now = newOpt.Now
	}
}

// validate checks that all options are set and consistent.
func (opt *Options) validate() error {
	if !opt.DisableUpload && opt.Uploader == nil {
		if len(opt.Endpoints) == 0 {
			return eris.New("at least one endpoint is required while uploads are enabled")
		}
		for _, e := range opt.Endpoints {
			u, err := url.Parse(e)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return eris.Errorf("invalid endpoint %q", e)
			}
		}
	}
	if opt.AttemptTimeout <= 0 {
		return eris.New("attempt timeout must be positive")
	}
	if opt.ClientTimeout <= 0 {
		return eris.New("client timeout must be positive")
	}
	if opt.AttemptTimeout > opt.ClientTimeout {
		return eris.New("attempt timeout cannot exceed the client timeout")
	}
	if opt.FetchTimeout <= 0 {
		return eris.New("fetch timeout must be positive")
	}
	if opt.UploadGrace <= 0 {
		return eris.New("upload grace must be positive")
	}
	if opt.HistorySize < 1 {
		return eris.New("history size must be at least 1")
	}
	if opt.PollInterval < minPollInterval {
		return eris.Errorf("poll interval must be at least %s", minPollInterval)
	}
	if opt.ClientName == "" {
		return eris.New("client name cannot be empty")
	}
	return nil
}
