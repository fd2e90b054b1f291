package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pagejson",
	Short: "pagejson serves page metadata as JSON in front of an existing site",
	Long: `pagejson sits in front of a page-serving application. Requests under the
configured API prefix are answered with JSON describing the page (title,
headings, meta description); everything else is forwarded to the origin.

Usage:
  pagejson serve --config config.yaml
  pagejson extract <url>`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
