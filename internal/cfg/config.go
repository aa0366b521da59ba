// Package cfg loads the automerger configuration file.
package cfg

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
)

const (
	DefGithubWebhookEndpoint     = "/hook"
	DefGithubAPIBaseURL          = "https://api.github.com"
	DefGithubUserAgent           = "automerger"
	DefGithubAPITimeout          = time.Minute
	DefEventLogFile              = "event.log"
	DefEventQueueSize            = 1024
	DefShutdownTimeout           = time.Second
	DefPrometheusMetricsEndpoint = "/metrics"
	DefLogFormat                 = "logfmt"
	DefLogTimeKey                = "time"
	DefLogLevel                  = "info"
	DefMergeInterval             = time.Minute
	DefMergeTargetBranch         = "master"
)

// Config is the automerger configuration.
// Durations are specified as strings in the format accepted by
// time.ParseDuration, the parsed values are stored in the fields without
// toml tag.
type Config struct {
	HTTPListenAddr            string `toml:"http_server_listen_addr"`
	HTTPSListenAddr           string `toml:"https_server_listen_addr"`
	HTTPSCertFile             string `toml:"https_ssl_cert_file"`
	HTTPSKeyFile              string `toml:"https_ssl_key_file"`
	HTTPGithubWebhookEndpoint string `toml:"github_webhook_endpoint"`
	GithubWebHookSecret       string `toml:"github_webhook_secret"`
	GithubAPIToken            string `toml:"github_api_token"`
	GithubAPIBaseURL          string `toml:"github_api_base_url"`
	GithubUserAgent           string `toml:"github_user_agent"`
	GithubAPITimeoutStr       string `toml:"github_api_timeout"`
	EventLogFile              string `toml:"event_log_file"`
	EventQueueSize            int    `toml:"event_queue_size"`
	ShutdownTimeoutStr        string `toml:"shutdown_timeout"`
	PrometheusMetricsEndpoint string `toml:"prometheus_metrics_endpoint"`
	LogFormat                 string `toml:"log_format"`
	LogTimeKey                string `toml:"log_time_key"`
	LogLevel                  string `toml:"log_level"`
	Merge                     Merge  `toml:"merge"`

	ShutdownTimeout  time.Duration `toml:"-"`
	GithubAPITimeout time.Duration `toml:"-"`
}

// Merge configures the periodic merging of the target branch into pull
// request branches.
type Merge struct {
	Enabled      bool   `toml:"enabled"`
	IntervalStr  string `toml:"interval"`
	Owner        string `toml:"owner"`
	Repository   string `toml:"repository"`
	TargetBranch string `toml:"target_branch"`
	FilterQuery  string `toml:"filter_query"`
	DryRun       bool   `toml:"dry_run"`

	Interval time.Duration `toml:"-"`
}

// Load reads a TOML configuration from reader, sets default values for
// unset options and validates it.
func Load(reader io.Reader) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	if err := result.setDefaults(); err != nil {
		return nil, err
	}

	if err := result.Validate(); err != nil {
		return nil, err
	}

	return &result, nil
}

func parseDuration(optName, val string, def time.Duration) (time.Duration, error) {
	if val == "" {
		return def, nil
	}

	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", optName, err)
	}

	return d, nil
}

func setDefault[T comparable](val *T, def T) {
	var zero T
	if *val == zero {
		*val = def
	}
}

func (c *Config) setDefaults() error {
	var err error

	setDefault(&c.HTTPGithubWebhookEndpoint, DefGithubWebhookEndpoint)
	setDefault(&c.GithubAPIBaseURL, DefGithubAPIBaseURL)
	setDefault(&c.GithubUserAgent, DefGithubUserAgent)
	setDefault(&c.EventLogFile, DefEventLogFile)
	setDefault(&c.EventQueueSize, DefEventQueueSize)
	setDefault(&c.PrometheusMetricsEndpoint, DefPrometheusMetricsEndpoint)
	setDefault(&c.LogFormat, DefLogFormat)
	setDefault(&c.LogTimeKey, DefLogTimeKey)
	setDefault(&c.LogLevel, DefLogLevel)
	setDefault(&c.Merge.TargetBranch, DefMergeTargetBranch)

	c.ShutdownTimeout, err = parseDuration("shutdown_timeout", c.ShutdownTimeoutStr, DefShutdownTimeout)
	if err != nil {
		return err
	}

	c.GithubAPITimeout, err = parseDuration("github_api_timeout", c.GithubAPITimeoutStr, DefGithubAPITimeout)
	if err != nil {
		return err
	}

	c.Merge.Interval, err = parseDuration("merge.interval", c.Merge.IntervalStr, DefMergeInterval)
	if err != nil {
		return err
	}

	return nil
}

// Validate returns an error if the configuration is incomplete or contains
// invalid values.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTPListenAddr == "" && c.HTTPSListenAddr == "" {
		errs = append(errs, errors.New("https_server_listen_addr or http_server_listen_addr must be set"))
	}

	if c.HTTPSListenAddr != "" && (c.HTTPSCertFile == "" || c.HTTPSKeyFile == "") {
		errs = append(errs, errors.New("https_ssl_cert_file and https_ssl_key_file must be set when https_server_listen_addr is set"))
	}

	if !strings.HasPrefix(c.HTTPGithubWebhookEndpoint, "/") {
		errs = append(errs, fmt.Errorf("github_webhook_endpoint must start with '/', is: %q", c.HTTPGithubWebhookEndpoint))
	}

	if c.PrometheusMetricsEndpoint != "" && !strings.HasPrefix(c.PrometheusMetricsEndpoint, "/") {
		errs = append(errs, fmt.Errorf("prometheus_metrics_endpoint must start with '/', is: %q", c.PrometheusMetricsEndpoint))
	}

	if c.GithubWebHookSecret == "" {
		errs = append(errs, errors.New("github_webhook_secret must be set"))
	}

	if c.EventQueueSize < 1 {
		errs = append(errs, fmt.Errorf("event_queue_size must be greater than 0, is: %d", c.EventQueueSize))
	}

	if c.GithubAPITimeout <= 0 {
		errs = append(errs, fmt.Errorf("github_api_timeout must be positive, is: %s", c.GithubAPITimeout))
	}

	if c.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("shutdown_timeout must not be negative, is: %s", c.ShutdownTimeout))
	}

	switch c.LogFormat {
	case "logfmt", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unsupported log_format: %q", c.LogFormat))
	}

	if c.Merge.Enabled {
		if c.Merge.Owner == "" {
			errs = append(errs, errors.New("merge.owner must be set when merge.enabled is true"))
		}

		if c.Merge.Repository == "" {
			errs = append(errs, errors.New("merge.repository must be set when merge.enabled is true"))
		}

		if c.Merge.Interval <= 0 {
			errs = append(errs, fmt.Errorf("merge.interval must be positive, is: %s", c.Merge.Interval))
		}
	}

	return errors.Join(errs...)
}
