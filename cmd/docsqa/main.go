// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command docsqa is the client CLI for a running docsqa service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docsqa",
		Short: "Ask questions of a docsqa service and manage its documents",
	}
	root.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL(),
		"Base URL of the docsqa service")

	root.AddCommand(askCmd())
	root.AddCommand(docsCmd())
	root.AddCommand(indexCmd())
	root.AddCommand(jobsCmd())
	root.AddCommand(ingestCmd())
	return root
}

func defaultServerURL() string {
	if v := os.Getenv("DOCSQA_SERVER_URL"); v != "" {
		return v
	}
	return "http://localhost:8000"
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
