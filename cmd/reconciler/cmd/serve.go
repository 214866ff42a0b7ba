package cmd

import (
	"interunit-loan-recon/internal/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the reconciliation HTTP API",
	Long: `Serve exposes matching runs, review decisions, listings, imports and
reports over HTTP under /api/v1, with Prometheus metrics at /metrics.
The server drains in-flight requests on SIGINT or SIGTERM.

Example:
  reconciler serve --addr :8080 --store-driver mysql --store-dsn 'recon:pw@tcp(db:3306)/recon?parseTime=true'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			server, err := api.NewServer(a.service, a.parser, &a.config.Server,
				api.WithLogger(a.logger),
				api.WithMetricsHandler(a.metrics.Handler()),
			)
			if err != nil {
				return err
			}
			return server.ListenAndServe(cmd.Context())
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().Bool("metrics", true, "serve Prometheus metrics at /metrics")

	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	viper.BindPFlag("server.enable_metrics", serveCmd.Flags().Lookup("metrics"))
}
