// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"github.com/AleutianAI/DataGuard/services/audit"
	"github.com/AleutianAI/DataGuard/services/guard"
	"github.com/spf13/cobra"
)

type reviewAction int

const (
	reviewApprove reviewAction = iota
	reviewReject
)

// runReview approves or rejects one id directly and several through the
// bulk path, which reports per-id failures instead of stopping.
func runReview(action reviewAction) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		decision := audit.ReviewDecision(reviewDecision)
		switch decision {
		case "", audit.DecisionAllow, audit.DecisionBlock, audit.DecisionWarn:
		default:
			return fmt.Errorf("invalid decision %q: want allow, block or warn", reviewDecision)
		}
		ctx := cmd.Context()

		if len(args) == 1 {
			var entry audit.Entry
			err := withSession(ctx, func(e *guard.Engine) error {
				review := e.Approve
				if action == reviewReject {
					review = e.Reject
				}
				var err error
				entry, err = review(ctx, args[0], actorID, reviewComment, decision)
				return err
			})
			if err != nil {
				return err
			}
			if wantJSON() {
				return writeJSON(os.Stdout, entry)
			}
			fmt.Printf("%s %s by %s\n", entry.ID, styleTitle.Render(string(entry.ReviewStatus)), entry.ReviewerID)
			return nil
		}

		var res audit.BulkResult
		err := withSession(ctx, func(e *guard.Engine) error {
			bulk := e.BulkApprove
			if action == reviewReject {
				bulk = e.BulkReject
			}
			res = bulk(ctx, args, actorID, reviewComment, decision)
			return nil
		})
		if err != nil {
			return err
		}
		if wantJSON() {
			if err := writeJSON(os.Stdout, res); err != nil {
				return err
			}
		} else {
			fmt.Printf("%d of %d reviewed\n", res.Succeeded, len(args))
			for _, f := range res.Failures {
				label := styleBlock.Render("failed")
				if f.Skipped {
					label = styleMuted.Render("skipped")
				}
				fmt.Printf("  %s %s: %s\n", label, f.ID, f.Error)
			}
		}
		if len(res.Failures) > 0 {
			return errFindings
		}
		return nil
	}
}

func runMark(cmd *cobra.Command, args []string) error {
	var entry audit.Entry
	err := withSession(cmd.Context(), func(e *guard.Engine) error {
		var err error
		entry, err = e.MarkForReview(cmd.Context(), args[0])
		return err
	})
	if err != nil {
		return err
	}
	if wantJSON() {
		return writeJSON(os.Stdout, entry)
	}
	fmt.Printf("%s flagged for review\n", entry.ID)
	return nil
}
