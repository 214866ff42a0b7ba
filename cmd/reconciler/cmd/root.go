package cmd

import (
	"context"
	"fmt"
	"os"

	"interunit-loan-recon/cmd/reconciler/config"
	"interunit-loan-recon/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	// appConfig is loaded before every command runs.
	appConfig *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Interunit loan reconciliation tool",
	Long: `Reconciler matches the two sides of interunit loan ledgers: the lender's
debit entries against the borrower's credit entries, one company pair and
statement month at a time. Reference matches are confirmed automatically,
everything else waits for a reviewer to accept or reject it.

Examples:
  reconciler import --company ACME --counterparty BETA --month March --year 2024 acme.csv
  reconciler reconcile --lender ACME --borrower BETA --month March --year 2024
  reconciler reconcile --all --progress
  reconciler accept ACME_134d7b1_249f0_000001 --by auditor
  reconciler export --lender ACME --borrower BETA --month 3 --year 2024 -o march.xlsx
  reconciler serve --addr :8080`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

// Execute adds all child commands to the root command and runs it with ctx.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	config.SetDefaults(viper.GetViper())

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text, json")
	flags.String("store-driver", "sqlite", "ledger store: sqlite, mysql, memory")
	flags.String("store-dsn", "reconciler.db", "ledger store data source name")
	flags.String("lock-backend", "local", "scope lock backend: local, redis")
	flags.String("redis-addr", "localhost:6379", "redis address for the redis lock backend")
	flags.String("profile", "default", "matching profile: default, strict, relaxed")

	viper.BindPFlag("verbose", flags.Lookup("verbose"))
	viper.BindPFlag("log.level", flags.Lookup("log-level"))
	viper.BindPFlag("log.format", flags.Lookup("log-format"))
	viper.BindPFlag("store.driver", flags.Lookup("store-driver"))
	viper.BindPFlag("store.dsn", flags.Lookup("store-dsn"))
	viper.BindPFlag("lock.backend", flags.Lookup("lock-backend"))
	viper.BindPFlag("lock.redis_addr", flags.Lookup("redis-addr"))
	viper.BindPFlag("matching.profile", flags.Lookup("profile"))
}

// initConfig reads the config file and environment, then sets up logging.
func initConfig(cmd *cobra.Command, args []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		if viper.GetBool("verbose") {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if viper.GetBool("verbose") {
		cfg.Log.Level = logger.DebugLevel
	}
	log, err := logger.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logger.SetGlobalLogger(log)

	appConfig = cfg
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
