package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lprior-repo/zjj/internal/queue"
)

// claimCmd claims the next pending queue entry on behalf of this agent;
// resource is a caller-supplied label recorded in the CLI's own audit
// trail, since the processing lock itself has no notion of named
// sub-resources (one lock serializes the whole claim-and-merge section).
var claimCmd = &cobra.Command{
	Use:     "claim <resource>",
	Short:   "Claim the next pending queue entry, labeled by resource",
	GroupID: GroupAgents,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeoutSecs, _ := cmd.Flags().GetInt("timeout")
		if timeoutSecs > 0 {
			if err := engine.ExtendLock(rootCtx, resolvedAgentID(), time.Duration(timeoutSecs)*time.Second); err != nil {
				logger.Debug("claim: lease extension before claim failed, proceeding anyway", "resource", args[0], "error", err)
			}
		}

		entry, err := engine.ClaimNext(rootCtx, resolvedAgentID())
		if err != nil {
			return err
		}
		if entry == nil {
			emitOrPrint("single", map[string]string{"resource": args[0]}, func() {
				fmt.Printf("no work available for %s\n", args[0])
			})
			return nil
		}
		emitOrPrint("single", entry, func() {
			fmt.Printf("claimed %s for resource %s\n", entry.Workspace, args[0])
		})
		return nil
	},
}

var yieldCmd = &cobra.Command{
	Use:     "yield <resource>",
	Short:   "Release the processing lock held by this agent",
	GroupID: GroupAgents,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := engine.ReleaseLock(rootCtx, resolvedAgentID()); err != nil {
			return err
		}
		emitOrPrint("single", map[string]string{"resource": args[0], "yielded": "true"}, func() {
			fmt.Printf("yielded %s\n", args[0])
		})
		return nil
	},
}

var lockCmd = &cobra.Command{
	Use:     "lock <session>",
	Short:   "Extend the processing lock while working on a session",
	GroupID: GroupAgents,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := sessionPathByName(args[0]); err != nil {
			return err
		}
		if err := engine.ExtendLock(rootCtx, resolvedAgentID(), queue.DefaultLockTimeout); err != nil {
			return err
		}
		emitOrPrint("single", map[string]string{"session": args[0], "locked_by": resolvedAgentID()}, func() {
			fmt.Printf("locked %s for %s\n", args[0], resolvedAgentID())
		})
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:     "unlock <session>",
	Short:   "Release the processing lock for a session",
	GroupID: GroupAgents,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := engine.ReleaseLock(rootCtx, resolvedAgentID()); err != nil {
			return err
		}
		emitOrPrint("single", map[string]string{"session": args[0], "unlocked": "true"}, func() {
			fmt.Printf("unlocked %s\n", args[0])
		})
		return nil
	},
}

func init() {
	claimCmd.Flags().IntP("timeout", "t", 0, "lease seconds to request before claiming")
	rootCmd.AddCommand(claimCmd, yieldCmd, lockCmd, unlockCmd)
}
