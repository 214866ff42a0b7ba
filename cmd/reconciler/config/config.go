// Package config loads the reconciler application configuration from flags,
// environment variables and an optional config file, and turns it into the
// component configurations.
package config

import (
	"fmt"
	"strings"

	"interunit-loan-recon/internal/api"
	"interunit-loan-recon/internal/matcher"
	"interunit-loan-recon/internal/parsers"
	"interunit-loan-recon/internal/reconciler"
	"interunit-loan-recon/internal/reporter"
	"interunit-loan-recon/internal/scopelock"
	"interunit-loan-recon/internal/store"
	"interunit-loan-recon/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. RECONCILER_STORE_DSN.
const EnvPrefix = "RECONCILER"

// Matching profiles select the base matching configuration.
const (
	ProfileDefault = "default"
	ProfileStrict  = "strict"
	ProfileRelaxed = "relaxed"
)

// MatchingSettings overrides the selected profile. Empty or nil fields keep
// the profile's value.
type MatchingSettings struct {
	Profile                  string  `mapstructure:"profile"`
	AmountTolerance          string  `mapstructure:"amount_tolerance"`
	SalaryThreshold          float64 `mapstructure:"salary_threshold"`
	CommonTextThreshold      float64 `mapstructure:"common_text_threshold"`
	TieBreakOrder            string  `mapstructure:"tie_break_order"`
	RequireDistinctOwners    *bool   `mapstructure:"require_distinct_owners"`
	EnableAccountReference   *bool   `mapstructure:"enable_account_reference"`
	EnableManualVerification *bool   `mapstructure:"enable_manual_verification"`
	EnableAmountOnly         *bool   `mapstructure:"enable_amount_only"`
}

// ReportSettings configures CLI reports.
type ReportSettings struct {
	Format       string `mapstructure:"format"`
	MaxListItems int    `mapstructure:"max_list_items"`
	IncludeAudit bool   `mapstructure:"include_audit"`
}

// Config is the whole application configuration.
type Config struct {
	Log       logger.Config              `mapstructure:"log"`
	Store     store.Config               `mapstructure:"store"`
	Matching  MatchingSettings           `mapstructure:"matching"`
	Lock      scopelock.Config           `mapstructure:"lock"`
	Server    api.Config                 `mapstructure:"server"`
	Reconcile reconciler.Config          `mapstructure:"reconcile"`
	Parser    parsers.LedgerParserConfig `mapstructure:"parser"`
	Report    ReportSettings             `mapstructure:"report"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Log:       *logger.DefaultConfig(),
		Store:     *store.DefaultConfig(),
		Matching:  MatchingSettings{Profile: ProfileDefault},
		Lock:      *scopelock.DefaultConfig(),
		Server:    *api.DefaultConfig(),
		Reconcile: *reconciler.DefaultConfig(),
		Parser:    *parsers.DefaultLedgerParserConfig(),
		Report: ReportSettings{
			Format:       string(reporter.FormatConsole),
			MaxListItems: reporter.DefaultReportConfig().MaxListItems,
			IncludeAudit: true,
		},
	}
}

// optionalKeys have no default but can still be set from the environment.
var optionalKeys = []string{
	"matching.amount_tolerance",
	"matching.salary_threshold",
	"matching.common_text_threshold",
	"matching.tie_break_order",
	"matching.require_distinct_owners",
	"matching.enable_account_reference",
	"matching.enable_manual_verification",
	"matching.enable_amount_only",
	"log.file",
}

// SetDefaults registers every default so that environment variables and
// config files can override individual keys.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log.level", string(d.Log.Level))
	v.SetDefault("log.format", string(d.Log.Format))
	v.SetDefault("log.output", string(d.Log.Output))

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.max_open_conns", d.Store.MaxOpenConns)
	v.SetDefault("store.busy_timeout", d.Store.BusyTimeout)

	v.SetDefault("matching.profile", d.Matching.Profile)

	v.SetDefault("lock.backend", d.Lock.Backend)
	v.SetDefault("lock.redis_addr", d.Lock.RedisAddr)
	v.SetDefault("lock.redis_db", d.Lock.RedisDB)
	v.SetDefault("lock.prefix", d.Lock.Prefix)
	v.SetDefault("lock.ttl", d.Lock.TTL)
	v.SetDefault("lock.retry_every", d.Lock.RetryEvery)
	v.SetDefault("lock.max_retries", d.Lock.MaxRetries)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.max_upload_bytes", d.Server.MaxUploadBytes)
	v.SetDefault("server.enable_metrics", d.Server.EnableMetrics)
	v.SetDefault("server.max_sessions", d.Server.MaxSessions)
	v.SetDefault("server.session_history_len", d.Server.SessionHistoryLen)

	v.SetDefault("reconcile.max_concurrent_scopes", d.Reconcile.MaxConcurrentScopes)
	v.SetDefault("reconcile.detect_duplicates", d.Reconcile.DetectDuplicates)
	v.SetDefault("reconcile.progress_interval", d.Reconcile.ProgressInterval)

	v.SetDefault("parser.delimiter", d.Parser.Delimiter)
	v.SetDefault("parser.date_formats", d.Parser.DateFormats)
	v.SetDefault("parser.skip_prefixes", d.Parser.SkipPrefixes)
	v.SetDefault("parser.join_continuations", d.Parser.JoinContinuations)

	v.SetDefault("report.format", d.Report.Format)
	v.SetDefault("report.max_list_items", d.Report.MaxListItems)
	v.SetDefault("report.include_audit", d.Report.IncludeAudit)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range optionalKeys {
		_ = v.BindEnv(key)
	}
}

// Load decodes v over the defaults and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("invalid log config: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("invalid store config: %w", err)
	}
	if _, err := c.MatchingConfig(); err != nil {
		return fmt.Errorf("invalid matching config: %w", err)
	}
	if err := c.Lock.Validate(); err != nil {
		return fmt.Errorf("invalid lock config: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	if err := c.Reconcile.Validate(); err != nil {
		return fmt.Errorf("invalid reconcile config: %w", err)
	}
	if err := c.Parser.Validate(); err != nil {
		return fmt.Errorf("invalid parser config: %w", err)
	}
	if _, err := c.ReportConfig(""); err != nil {
		return fmt.Errorf("invalid report config: %w", err)
	}
	return nil
}

// MatchingConfig builds the matcher configuration from the profile and
// overrides.
func (c *Config) MatchingConfig() (*matcher.MatchingConfig, error) {
	var mc *matcher.MatchingConfig
	switch strings.ToLower(c.Matching.Profile) {
	case "", ProfileDefault:
		mc = matcher.DefaultMatchingConfig()
	case ProfileStrict:
		mc = matcher.StrictMatchingConfig()
	case ProfileRelaxed:
		mc = matcher.RelaxedMatchingConfig()
	default:
		return nil, fmt.Errorf("unknown matching profile: %q", c.Matching.Profile)
	}

	m := c.Matching
	if m.AmountTolerance != "" {
		tol, err := decimal.NewFromString(m.AmountTolerance)
		if err != nil {
			return nil, fmt.Errorf("invalid amount tolerance %q: %w", m.AmountTolerance, err)
		}
		mc.AmountTolerance = tol
	}
	if m.SalaryThreshold != 0 {
		mc.SalaryThreshold = m.SalaryThreshold
	}
	if m.CommonTextThreshold != 0 {
		mc.CommonTextThreshold = m.CommonTextThreshold
	}
	if m.TieBreakOrder != "" {
		order, err := matcher.ParseTieBreakOrder(m.TieBreakOrder)
		if err != nil {
			return nil, err
		}
		mc.TieBreakOrder = order
	}
	for _, o := range []struct {
		set *bool
		dst *bool
	}{
		{m.RequireDistinctOwners, &mc.RequireDistinctOwners},
		{m.EnableAccountReference, &mc.EnableAccountReference},
		{m.EnableManualVerification, &mc.EnableManualVerification},
		{m.EnableAmountOnly, &mc.EnableAmountOnly},
	} {
		if o.set != nil {
			*o.dst = *o.set
		}
	}

	if err := mc.Validate(); err != nil {
		return nil, err
	}
	return mc, nil
}

// ReportConfig builds a report configuration. A non-empty format overrides
// the configured one.
func (c *Config) ReportConfig(format string) (*reporter.ReportConfig, error) {
	rc := reporter.DefaultReportConfig()
	rc.Format = reporter.OutputFormat(strings.ToLower(c.Report.Format))
	if format != "" {
		rc.Format = reporter.OutputFormat(strings.ToLower(format))
	}
	rc.MaxListItems = c.Report.MaxListItems
	rc.IncludeAudit = c.Report.IncludeAudit
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	return rc, nil
}
