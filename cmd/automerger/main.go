package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplesurance/automerger/internal/cfg"
	"github.com/simplesurance/automerger/internal/eventlog"
	"github.com/simplesurance/automerger/internal/eventqueue"
	"github.com/simplesurance/automerger/internal/githubclt"
	"github.com/simplesurance/automerger/internal/logfields"
	"github.com/simplesurance/automerger/internal/merger"
	"github.com/simplesurance/automerger/internal/provider/github"
)

const appName = "automerger"

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(1)
}

func panicHandler() {
	if r := recover(); r != nil {
		logger.Info(
			"panic caught , terminating gracefully",
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)

		ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
		defer cancelFn()

		goodbye.Exit(ctx, 1)
	}
}

func startHTTPServer(listenAddr string, mux *http.ServeMux) *http.Server {
	httpServer := http.Server{
		Addr:    listenAddr,
		Handler: mux,
	}

	go func() {
		defer panicHandler()

		logger.Info(
			"http server started",
			logfields.Event("http_server_started"),
			zap.String("listenAddr", listenAddr),
		)

		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("http server terminated", logfields.Event("http_server_terminated"))
			return
		}

		logger.Fatal(
			"http server terminated unexpectedly",
			logfields.Event("http_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()

	return &httpServer
}

func startHTTPSServer(listenAddr, certFile, keyFile string, mux *http.ServeMux) *http.Server {
	httpsServer := http.Server{
		Addr:    listenAddr,
		Handler: mux,
	}

	go func() {
		defer panicHandler()

		logger.Info(
			"https server started",
			logfields.Event("https_server_started"),
			zap.String("listenAddr", listenAddr),
		)

		err := httpsServer.ListenAndServeTLS(certFile, keyFile)
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("https server terminated", logfields.Event("https_server_terminated"))
			return
		}

		logger.Fatal(
			"https server terminated unexpectedly",
			logfields.Event("https_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()

	return &httpsServer
}

type arguments struct {
	Verbose     *bool
	ConfigFile  *string
	ShowVersion *bool
}

var args arguments

const defConfigFile = "/etc/automerger/config.toml"

func mustParseCommandlineParams() {
	args = arguments{
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			defConfigFile,
			"path to the automerger configuration file",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nRecord GitHub webhook events and merge the target branch into pull requests.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()
}

func mustParseCfg() *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	file, err := os.Open(*args.ConfigFile)
	exitOnErr("could not open configuration files", err)
	defer file.Close()

	config, err := cfg.Load(file)
	if err != nil {
		exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)
	}

	return config
}

func initLogFmtLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zapEncoderConfig(config)

	logger := zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(cfg),
		os.Stdout,
		logLevel),
	)

	return logger
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()

	cfg.LevelKey = "loglevel"
	cfg.TimeKey = config.LogTimeKey
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	return cfg
}

func mustInitZapFormatLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig = zapEncoderConfig(config)
	cfg.OutputPaths = []string{"stdout"}
	cfg.Encoding = config.LogFormat
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build()
	exitOnErr("could not initialize logger", err)

	return logger
}

func mustInitLogger(config *cfg.Config) {
	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(config.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s \n", config.LogLevel, err)
			os.Exit(2)
		}
	}

	switch config.LogFormat {
	case "logfmt":
		logger = initLogFmtLogger(config, logLevel)
	case "console", "json":
		logger = mustInitZapFormatLogger(config, logLevel)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(2)
	}

	logger = logger.Named("main")
	zap.ReplaceGlobals(logger)
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

func logConfig(config *cfg.Config) {
	logger.Info(
		"loaded cfg file",
		logfields.Event("cfg_loaded"),
		zap.String("cfg_file", *args.ConfigFile),
		zap.String("http_server_listen_addr", config.HTTPListenAddr),
		zap.String("https_server_listen_addr", config.HTTPSListenAddr),
		zap.String("https_ssl_cert_file", config.HTTPSCertFile),
		zap.String("https_ssl_key_file", config.HTTPSKeyFile),
		zap.String("github_webhook_endpoint", config.HTTPGithubWebhookEndpoint),
		zap.String("github_webhook_secret", hide(config.GithubWebHookSecret)),
		zap.String("github_api_token", hide(config.GithubAPIToken)),
		zap.String("github_api_base_url", config.GithubAPIBaseURL),
		zap.String("github_user_agent", config.GithubUserAgent),
		zap.Duration("github_api_timeout", config.GithubAPITimeout),
		zap.String("event_log_file", config.EventLogFile),
		zap.Int("event_queue_size", config.EventQueueSize),
		zap.Duration("shutdown_timeout", config.ShutdownTimeout),
		zap.String("prometheus_metrics_endpoint", config.PrometheusMetricsEndpoint),
		zap.String("log_format", config.LogFormat),
		zap.String("log_time_key", config.LogTimeKey),
		zap.String("log_level", config.LogLevel),
		zap.Bool("merge.enabled", config.Merge.Enabled),
		zap.Duration("merge.interval", config.Merge.Interval),
		zap.String("merge.owner", config.Merge.Owner),
		zap.String("merge.repository", config.Merge.Repository),
		zap.String("merge.target_branch", config.Merge.TargetBranch),
		zap.String("merge.filter_query", config.Merge.FilterQuery),
		zap.Bool("merge.dry_run", config.Merge.DryRun),
	)
}

func mustStartMerger(ctx context.Context, config *cfg.Config) <-chan struct{} {
	done := make(chan struct{})

	if !config.Merge.Enabled {
		logger.Info("merging is disabled", logfields.Event("merger_disabled"))
		close(done)
		return done
	}

	clt, err := githubclt.New(
		config.GithubAPIToken,
		githubclt.WithBaseURL(config.GithubAPIBaseURL),
		githubclt.WithUserAgent(config.GithubUserAgent),
		githubclt.WithTimeout(config.GithubAPITimeout),
	)
	if err != nil {
		logger.Fatal(
			"creating github client failed",
			logfields.Event("github_client_creation_failed"),
			zap.Error(err),
		)
	}

	m, err := merger.New(clt, &merger.Config{
		Owner:        config.Merge.Owner,
		Repository:   config.Merge.Repository,
		TargetBranch: config.Merge.TargetBranch,
		Interval:     config.Merge.Interval,
		FilterQuery:  config.Merge.FilterQuery,
		DryRun:       config.Merge.DryRun,
	})
	if err != nil {
		logger.Fatal(
			"creating merger failed",
			logfields.Event("merger_creation_failed"),
			zap.Error(err),
		)
	}

	go func() {
		defer panicHandler()
		defer close(done)

		m.Run(ctx)
	}()

	return done
}

func main() {
	defer panicHandler()

	defer goodbye.Exit(context.Background(), 1)
	goodbye.Notify(context.Background())

	mustParseCommandlineParams()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0) // nolint:gocritic // defer functions won't run
	}

	config := mustParseCfg()

	mustInitLogger(config)
	logConfig(config)

	queue := eventqueue.New(config.EventQueueSize)

	evLog, err := eventlog.Open(config.EventLogFile, queue.C())
	if err != nil {
		logger.Fatal(
			"opening event log failed",
			logfields.Event("event_log_open_failed"),
			zap.String("event_log_file", config.EventLogFile),
			zap.Error(err),
		)
	}

	go func() {
		defer panicHandler()
		evLog.Run()
	}()

	gh := github.New(
		queue,
		github.WithPayloadSecret(config.GithubWebHookSecret),
	)

	mux := http.NewServeMux()

	mux.HandleFunc(config.HTTPGithubWebhookEndpoint, gh.HTTPHandler)
	logger.Info(
		"registered github webhook event http endpoint",
		logfields.Event("github_http_handler_registered"),
		zap.String("endpoint", config.HTTPGithubWebhookEndpoint),
	)

	if config.PrometheusMetricsEndpoint != "" {
		mux.Handle(config.PrometheusMetricsEndpoint, promhttp.Handler())
		logger.Info(
			"registered prometheus metrics http endpoint",
			logfields.Event("prometheus_http_handler_registered"),
			zap.String("endpoint", config.PrometheusMetricsEndpoint),
		)
	}

	var servers []*http.Server

	if config.HTTPListenAddr != "" {
		servers = append(servers, startHTTPServer(config.HTTPListenAddr, mux))
	}

	if config.HTTPSListenAddr != "" {
		servers = append(servers, startHTTPSServer(
			config.HTTPSListenAddr,
			config.HTTPSCertFile,
			config.HTTPSKeyFile,
			mux,
		))
	}

	mergerCtx, cancelMerger := context.WithCancel(context.Background())
	mergerDone := mustStartMerger(mergerCtx, config)

	goodbye.Register(func(_ context.Context, sig os.Signal) {
		logger.Info(fmt.Sprintf("terminating, received signal %v", sig))

		shutdownHTTPServers(servers, config.ShutdownTimeout)

		logger.Debug("stopping merger", logfields.Event("merger_stopping"))
		cancelMerger()
		<-mergerDone

		logger.Debug("closing event queue", logfields.Event("event_queue_closing"))
		queue.Close()

		logger.Debug(
			"waiting for queued events to be written",
			logfields.Event("event_log_draining"),
			zap.Int("queued_events", queue.Len()),
		)
		drainEventLog(evLog, config.ShutdownTimeout)

		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	})

	select {}
}
