package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clefourrier/datasets/pkg/cache"
	"github.com/clefourrier/datasets/pkg/config"
	"github.com/clefourrier/datasets/pkg/fetch"
	"github.com/clefourrier/datasets/pkg/fingerprint"
	"github.com/clefourrier/datasets/pkg/logger"
	"github.com/clefourrier/datasets/pkg/metrics"
	"github.com/clefourrier/datasets/pkg/streaming"
	"github.com/clefourrier/datasets/pkg/table"

	gojson "github.com/goccy/go-json"
)

var version = "0.1.0"

func main() {
	var (
		logLevel    string
		quiet       bool
		metricsAddr string
	)

	root := &cobra.Command{
		Use:   "datasets",
		Short: "Datasets - columnar dataset storage and transform cache",
		Long: `Datasets manages memory-mapped columnar dataset files and their on-disk
transform cache: inspect stored tables, look up and clear cache entries, and
stream sharded JSON-lines datasets.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			obs := config.ObservabilityConfig{
				EnableMetrics: metricsAddr != "",
				EnableLogging: !quiet,
				LogLevel:      logLevel,
			}
			return setupObservability(obs, metricsAddr)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log verbosity (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress log output")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (empty disables)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("datasets v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(inspectCommand())
	root.AddCommand(cacheCommand())
	root.AddCommand(streamCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupObservability applies the observability settings: log level and, when
// enabled, a Prometheus metrics listener.
func setupObservability(obs config.ObservabilityConfig, addr string) error {
	level := obs.LogLevel
	if !obs.EnableLogging {
		level = "fatal"
	}
	if err := logger.Init(logger.Config{Level: level, Encoding: "console"}); err != nil {
		return err
	}

	if obs.EnableMetrics {
		go func() {
			if err := http.ListenAndServe(addr, metrics.Handler()); err != nil {
				logger.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
	}
	return nil
}

// inspectCommand prints the schema and row count of a stored table file.
func inspectCommand() *cobra.Command {
	var showRows int
	cmd := &cobra.Command{
		Use:   "inspect <table.arrow>",
		Short: "Inspect a stored table file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tbl, err := table.Load(args[0])
			if err != nil {
				return err
			}
			defer tbl.Close()

			fmt.Printf("path:    %s\n", tbl.Path())
			fmt.Printf("rows:    %d\n", tbl.NumRows())
			fmt.Printf("columns: %v\n", tbl.ColumnNames())

			n := int64(showRows)
			if n > tbl.NumRows() {
				n = tbl.NumRows()
			}
			for i := int64(0); i < n; i++ {
				row, err := tbl.Row(i)
				if err != nil {
					return err
				}
				data, err := gojson.Marshal(row)
				if err != nil {
					return err
				}
				fmt.Println(string(data))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&showRows, "rows", 0, "Number of leading rows to print")
	return cmd
}

func cacheCommand() *cobra.Command {
	var cacheDir string
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the transform cache directory",
	}
	cmd.PersistentFlags().StringVar(&cacheDir, "dir", "", "Cache directory (defaults to the per-user cache dir)")

	openManager := func() (*cache.Manager, error) {
		cfg := config.NewBaseConfig("cli")
		if cacheDir != "" {
			cfg.Cache.Dir = cacheDir
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cache.NewManager(cfg.Cache)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "has <fingerprint>",
		Short: "Check whether a cache entry exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openManager()
			if err != nil {
				return err
			}
			fp := fingerprint.Fingerprint(args[0])
			if !fp.Valid() {
				return fmt.Errorf("%q is not a valid fingerprint", args[0])
			}
			if m.Has(fp) {
				fmt.Println("present")
				return nil
			}
			fmt.Println("absent")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <fingerprint>",
		Short: "Delete a single cache entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openManager()
			if err != nil {
				return err
			}
			return m.Delete(fingerprint.Fingerprint(args[0]))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every entry in the cache directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openManager()
			if err != nil {
				return err
			}
			return m.Clear()
		},
	})

	return cmd
}

// streamCommand iterates sharded JSON-lines datasets and prints records.
func streamCommand() *cobra.Command {
	var (
		prefetch int
		limit    int64
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stream <shard-uri>...",
		Short: "Stream records from JSON-lines shards",
		Long: `Stream records from local or HTTP(S) JSON-lines shards, decompressing by
file extension, and print each record as one JSON line.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			shards := make([]streaming.Shard, len(args))
			for i, uri := range args {
				shards[i] = streaming.Shard{Name: fmt.Sprintf("shard-%d", i), URI: uri}
			}

			var fetcher fetch.Fetcher = fetch.NewLocalFetcher()
			for _, uri := range args {
				if len(uri) > 4 && uri[:4] == "http" {
					httpFetcher, err := fetch.NewHTTPFetcher(nil)
					if err != nil {
						return err
					}
					fetcher = httpFetcher
					break
				}
			}

			it, err := streaming.Open(cmd.Context(), shards, streaming.Options{
				Fetcher:       fetcher,
				PrefetchDepth: prefetch,
				FetchTimeout:  timeout,
			})
			if err != nil {
				return err
			}
			defer it.Close()

			var src streaming.Stream = it
			if limit > 0 {
				src = streaming.Take(it, limit)
			}

			ctx := context.Background()
			for {
				row, err := src.Next(ctx)
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
				data, err := gojson.Marshal(row)
				if err != nil {
					return err
				}
				fmt.Println(string(data))
			}
		},
	}
	cmd.Flags().IntVar(&prefetch, "prefetch", 2, "In-flight shard fetch window")
	cmd.Flags().Int64Var(&limit, "limit", 0, "Stop after this many records (0 = all)")
	cmd.Flags().DurationVar(&timeout, "fetch-timeout", 30*time.Second, "Per-shard fetch timeout")
	return cmd
}
