/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Seednode/jeopardy/trivia"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	apiTimeout     time.Duration
	apiURL         string
	bind           string
	cacheTTL       time.Duration
	categories     int
	clues          int
	maxAttempts    int
	metrics        bool
	poolSize       int
	port           int
	prefix         string
	profile        bool
	redisAddr      string
	redisDB        int
	redisPassword  string
	retryDelay     time.Duration
	sessionTimeout time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool

	log *zap.SugaredLogger
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.categories < 1 {
		return fmt.Errorf("invalid category count (must be at least 1): %d", c.categories)
	}
	if c.clues < 1 {
		return fmt.Errorf("invalid clue count (must be at least 1): %d", c.clues)
	}
	if c.poolSize < c.categories {
		return fmt.Errorf("invalid pool size (must be at least --categories): %d", c.poolSize)
	}
	if c.maxAttempts < 1 {
		return fmt.Errorf("invalid attempt count (must be at least 1): %d", c.maxAttempts)
	}
	if c.apiURL == "" {
		return errors.New("--api-url must not be empty")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func (c *Config) logger() *zap.SugaredLogger {
	if c.log == nil {
		return zap.NewNop().Sugar()
	}
	return c.log
}

func (c *Config) builderOptions() trivia.Options {
	return trivia.Options{
		Categories:       c.categories,
		CluesPerCategory: c.clues,
		PoolSize:         c.poolSize,
		MaxAttempts:      c.maxAttempts,
		RetryDelay:       c.retryDelay,
		Logger:           c.logger(),
	}
}

func newCmd(cfg *Config) *cobra.Command {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("JEOPARDY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "jeopardy",
		Short:         "A Jeopardy-style trivia board, served as a single webapp.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}

			cfg.log = newLogger(cfg.verbose)
			defer func() { _ = cfg.log.Sync() }()

			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.DurationVar(&cfg.apiTimeout, "api-timeout", 10*time.Second, "timeout for each trivia service request (env: JEOPARDY_API_TIMEOUT)")
	fs.StringVar(&cfg.apiURL, "api-url", "https://jservice.io", "base url of the trivia service (env: JEOPARDY_API_URL)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: JEOPARDY_BIND)")
	fs.DurationVar(&cfg.cacheTTL, "cache-ttl", 24*time.Hour, "how long cached category data is kept in redis (env: JEOPARDY_CACHE_TTL)")
	fs.IntVar(&cfg.categories, "categories", 6, "number of categories per board (env: JEOPARDY_CATEGORIES)")
	fs.IntVar(&cfg.clues, "clues", 5, "number of clues per category (env: JEOPARDY_CLUES)")
	fs.IntVar(&cfg.maxAttempts, "max-attempts", 3, "board build attempts before giving up (env: JEOPARDY_MAX_ATTEMPTS)")
	fs.BoolVar(&cfg.metrics, "metrics", false, "expose prometheus metrics at /metrics (env: JEOPARDY_METRICS)")
	fs.IntVar(&cfg.poolSize, "pool-size", 100, "number of candidate categories to request (env: JEOPARDY_POOL_SIZE)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: JEOPARDY_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: JEOPARDY_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: JEOPARDY_PROFILE)")
	fs.StringVar(&cfg.redisAddr, "redis-addr", "", "redis address for caching category data, disabled if empty (env: JEOPARDY_REDIS_ADDR)")
	fs.IntVar(&cfg.redisDB, "redis-db", 0, "redis database index (env: JEOPARDY_REDIS_DB)")
	fs.StringVar(&cfg.redisPassword, "redis-password", "", "redis password (env: JEOPARDY_REDIS_PASSWORD)")
	fs.DurationVar(&cfg.retryDelay, "retry-delay", time.Second, "pause between board build attempts (env: JEOPARDY_RETRY_DELAY)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle games are ended (env: JEOPARDY_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: JEOPARDY_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: JEOPARDY_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: JEOPARDY_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: JEOPARDY_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("jeopardy v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
