package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lprior-repo/zjj/internal/queue"
)

// recoverCmd exposes the engine's stale-lock/claim recovery sweep for
// operator-driven maintenance, outside the sweep already run automatically
// on every ClaimNext.
var recoverCmd = &cobra.Command{
	Use:     "recover",
	Short:   "Inspect or run the stale-lock and stale-claim recovery sweep",
	GroupID: GroupIntegrity,
	RunE: func(cmd *cobra.Command, args []string) error {
		run, _ := cmd.Flags().GetBool("run")
		staleAfterSecs, _ := cmd.Flags().GetInt64("stale-after-secs")
		if run {
			var (
				stats queue.RecoveryStats
				err   error
			)
			if staleAfterSecs > 0 {
				stats, err = engine.ReclaimStale(rootCtx, staleAfterSecs)
			} else {
				stats, err = engine.DetectAndRecoverStale(rootCtx)
			}
			if err != nil {
				return err
			}
			emitOrPrint("single", stats, func() {
				fmt.Printf("recovered %d stale claim(s), cleared %d stale lock(s)\n", stats.EntriesReclaimed, stats.LocksCleaned)
			})
			return nil
		}

		stats, err := engine.GetRecoveryStats(rootCtx)
		if err != nil {
			return err
		}
		emitOrPrint("single", stats, func() {
			fmt.Printf("would recover %d stale claim(s), clear %d stale lock(s)\n", stats.EntriesReclaimed, stats.LocksCleaned)
		})
		return nil
	},
}

func init() {
	recoverCmd.Flags().Bool("stats", true, "report what a sweep would do without mutating anything (default)")
	recoverCmd.Flags().Bool("run", false, "run the recovery sweep now")
	recoverCmd.Flags().Int64("stale-after-secs", 0, "use a caller-chosen staleness threshold instead of the configured lock timeout (requires --run)")
	rootCmd.AddCommand(recoverCmd)
}
