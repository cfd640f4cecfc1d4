// Command overnetctl drives a loopback demonstration of the Overnet
// packet protocol and optionally serves its Prometheus metrics.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	ometrics "github.com/soypat/overnet/metrics"
)

// version is overridden at build time with -ldflags.
var version = "(unknown version)"

func main() {
	root := &cobra.Command{
		Use:           "overnetctl",
		Short:         "overnetctl",
		Long:          "overnetctl drives and inspects the Overnet packet protocol",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	var configPath string
	var verbose bool

	demoCmd := &cobra.Command{
		Use:   "demo",
		Short: "run a loopback demo between two in-process endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadDemoConfig(configPath)
			if err != nil {
				return err
			}
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			var collector *ometrics.Collector
			var server *http.Server
			if cfg.MetricsAddr != "" {
				collector = ometrics.NewCollector("overnet", "connection_id", prometheus.Labels{"run": "demo"})
				reg := prometheus.NewRegistry()
				reg.MustRegister(collector)
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				server = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
				go func() {
					if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						log.Error("metrics server stopped", slog.String("err", err.Error()))
					}
				}()
				defer server.Close()
				log.Info("serving metrics", slog.String("addr", cfg.MetricsAddr))
			}

			return runDemo(cfg, log, collector)
		},
	}
	demoCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a demo config YAML file (defaults used if omitted)")
	demoCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
	root.AddCommand(demoCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "print the overnetctl version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("overnetctl", version)
			return nil
		},
	}
	root.AddCommand(versionCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
