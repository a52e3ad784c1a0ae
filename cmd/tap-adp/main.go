package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tap-adp/pkg/catalog"
	"github.com/ajitpratap0/tap-adp/pkg/config"
	"github.com/ajitpratap0/tap-adp/pkg/jsonutil"
	"github.com/ajitpratap0/tap-adp/pkg/logger"
	"github.com/ajitpratap0/tap-adp/pkg/runner"
	"github.com/ajitpratap0/tap-adp/pkg/singer"
	"github.com/ajitpratap0/tap-adp/pkg/state"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "tap-adp",
		Short: "tap-adp - incremental extractor for the ADP HR and payroll API",
		Long: `tap-adp extracts worker, payroll, and staffing data from the ADP API and
emits it as line-delimited schema, record, and state messages on stdout.`,
		SilenceUsage: true,
	}

	root.AddCommand(versionCmd(), aboutCmd(), discoverCmd(), runCmd())

	if err := root.Execute(); err != nil {
		logger.Get().Error("command failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tap-adp v%s\n", config.Version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func aboutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "about",
		Short: "Describe the tap: capabilities, settings, and streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := jsonutil.MarshalString(catalog.NewAbout(config.Version))
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
}

func discoverCmd() *cobra.Command {
	var configFile, outFile string

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Emit the stream catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := catalog.Discover()

			// selection from config is reflected in the emitted catalog
			var sel *catalog.Selection
			if configFile != "" {
				cfg, err := config.Load(configFile)
				if err != nil {
					return err
				}
				sel, err = c.Select(cfg.Select)
				if err != nil {
					return err
				}
			}

			doc := c.Document(sel)
			if outFile != "" {
				return catalog.WriteDocument(outFile, doc)
			}
			out, err := jsonutil.MarshalString(doc)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML)")
	cmd.Flags().StringVarP(&outFile, "output", "o", "", "Write the catalog to a file instead of stdout")
	return cmd
}

func runCmd() *cobra.Command {
	var configFile, catalogFile, stateFile, stateOutFile, metricsAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an extraction",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			if err := logger.Init(logger.Config{
				Level:    cfg.LogLevel,
				Encoding: "json",
			}); err != nil {
				return err
			}

			stateManager, err := state.Load(stateFile)
			if err != nil {
				return err
			}

			// a catalog file overrides the config's selection patterns
			if catalogFile != "" {
				doc, err := catalog.LoadDocument(catalogFile)
				if err != nil {
					return err
				}
				sel, err := catalog.Discover().SelectionFromDocument(doc)
				if err != nil {
					return err
				}
				var patterns []string
				for _, s := range sel.Streams {
					if fields := sel.Fields[s]; fields != nil {
						for f := range fields {
							patterns = append(patterns, s+"."+f)
						}
					} else {
						patterns = append(patterns, s)
					}
				}
				cfg.Select = patterns
			}

			if metricsAddr != "" {
				go func() {
					mux := http.NewServeMux()
					mux.Handle("/metrics", promhttp.Handler())
					if err := http.ListenAndServe(metricsAddr, mux); err != nil {
						logger.Get().Warn("metrics endpoint stopped", zap.Error(err))
					}
				}()
			}

			writer := singer.NewWriter(os.Stdout)
			r, err := runner.New(cfg, writer, stateManager)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, runErr := r.Run(ctx)

			if stateOutFile != "" && result != nil {
				if err := stateManager.Save(stateOutFile); err != nil {
					logger.Get().Warn("failed to persist state file", zap.Error(err))
				}
			}
			if runErr != nil {
				return runErr
			}
			if len(result.StreamsFailed) > 0 {
				return fmt.Errorf("%d of %d streams failed",
					len(result.StreamsFailed),
					result.StreamsSynced+len(result.StreamsFailed))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML)")
	cmd.Flags().StringVar(&catalogFile, "catalog", "", "Catalog file controlling stream selection")
	cmd.Flags().StringVar(&stateFile, "state", "", "State file from a previous run")
	cmd.Flags().StringVar(&stateOutFile, "state-out", "", "Write final state to a file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}
