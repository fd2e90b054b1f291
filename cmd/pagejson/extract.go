package main

import (
	"fmt"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/user/pagejson-service/internal/config"
	"github.com/user/pagejson-service/internal/crawler"
	"github.com/user/pagejson-service/internal/pipeline"
	"github.com/user/pagejson-service/pkg/logger"
)

var (
	flagTimeout time.Duration
	flagRaw     bool
	flagVerbose bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <url>",
	Short: "Fetch one page and print its extracted data as JSON",
	Long: `Extract fetches a single absolute URL, extracts the page data the server
would return for it and prints the JSON to stdout. Nothing is cached.

Examples:
  pagejson extract https://example.com/about
  pagejson extract https://example.com --timeout 2s --raw`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().DurationVar(&flagTimeout, "timeout", config.DefaultRequestTimeout*time.Millisecond, "Origin request timeout")
	extractCmd.Flags().BoolVar(&flagRaw, "raw", false, "Include the fetched markup in the output")
	extractCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log fetch details to stderr")
}

func runExtract(cmd *cobra.Command, args []string) error {
	u, err := url.Parse(args[0])
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("invalid URL %q: must be absolute", args[0])
	}
	if flagTimeout <= 0 {
		return fmt.Errorf("--timeout must be positive")
	}

	level := "warn"
	if flagVerbose {
		level = "debug"
	}
	log, err := logger.New(level, "console")
	if err != nil {
		return err
	}
	defer log.Sync()

	opts := config.DefaultOptions()
	opts.EnableCache = false
	opts.RequestTimeoutMillis = int(flagTimeout.Milliseconds())

	p := pipeline.New(opts, nil, crawler.NewHTTPFetcher(nil, log), pipeline.WithLogger(log))

	path := u.Path
	if path == "" {
		path = "/"
	}
	page, err := p.Extract(cmd.Context(), crawler.Origin{Scheme: u.Scheme, Host: u.Host}, path)
	if err != nil {
		return err
	}
	if !flagRaw {
		page.RawMarkup = ""
	}

	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(page, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
