// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command dataguard scans content for sensitive data, records the decisions
// in the audit log and serves the DataGuard HTTP API.
//
// Usage:
//
//	dataguard scan "my card is 4111 1111 1111 1111"
//	dataguard check --project apollo --actor alice < issue.md
//	dataguard logs list --status pending
//	dataguard review approve <id> --comment "false positive"
//	dataguard cleanup
//	dataguard serve
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errFindings) {
			os.Exit(CLIExitFindings)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(CLIExitError)
	}
}
