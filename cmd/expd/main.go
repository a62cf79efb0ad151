// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// expd is the Shopkit experiment engine daemon: it serves the records
// API, keeps the experiment catalog loaded, and persists sticky
// assignments and analytics events.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "expd",
		Short: "Shopkit experiment assignment and analytics engine",
		Long: `expd assigns storefront users to experiment variants with
deterministic, sticky bucketing and records the analytics events
reporting is built on.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the experiment engine server",
		RunE:  runServe,
	}

	checkConfigCmd = &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and experiment definitions, then exit",
		RunE:  runCheckConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to the expd YAML configuration file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
