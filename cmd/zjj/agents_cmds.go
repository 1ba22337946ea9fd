package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lprior-repo/zjj/internal/queue"
)

// agentsCmd surfaces the processing lock and per-agent queue ownership as a
// lightweight agent registry: this system models no separate agent entity
// (SPEC_FULL.md §3.2's processing lock is the only cross-process mutex), so
// these subcommands project that lock plus the entries an agent id owns.
var agentsCmd = &cobra.Command{
	Use:     "agents",
	Short:   "Inspect and manage agent participation in the merge queue",
	GroupID: GroupAgents,
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agent ids with active queue entries, and the current lock holder",
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := engine.List(rootCtx, queue.Filter{All: false})
		if err != nil {
			return err
		}
		byAgent := map[string]int{}
		for _, e := range entries {
			if e.AgentID != "" {
				byAgent[e.AgentID]++
			}
		}
		stale, _ := engine.IsLockStale(rootCtx)

		result := map[string]any{"active_by_agent": byAgent, "lock_stale": stale}
		emitOrPrint("single", result, func() {
			for agent, count := range byAgent {
				fmt.Printf("%-20s active=%d\n", agent, count)
			}
		})
		return nil
	},
}

var agentsRegisterCmd = &cobra.Command{
	Use:   "register <agent-id>",
	Short: "Declare an agent id for subsequent commands (no persistent registry)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentFlag = args[0]
		emitOrPrint("single", map[string]string{"agent_id": args[0]}, func() {
			fmt.Printf("using agent id %s for this invocation\n", args[0])
		})
		return nil
	},
}

var agentsHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Extend the processing lock held by this agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		extend, _ := cmd.Flags().GetDuration("extend")
		if extend == 0 {
			extend = queue.DefaultLockTimeout
		}
		if err := engine.ExtendLock(rootCtx, resolvedAgentID(), extend); err != nil {
			return err
		}
		emitOrPrint("single", map[string]string{"agent_id": resolvedAgentID(), "extended_by": extend.String()}, func() {
			fmt.Printf("extended lock for %s by %s\n", resolvedAgentID(), extend)
		})
		return nil
	},
}

var agentsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the processing lock is held and whether it is stale",
	RunE: func(cmd *cobra.Command, args []string) error {
		stale, err := engine.IsLockStale(rootCtx)
		if err != nil {
			return err
		}
		emitOrPrint("single", map[string]bool{"lock_stale": stale}, func() {
			fmt.Printf("lock_stale=%v\n", stale)
		})
		return nil
	},
}

var agentsUnregisterCmd = &cobra.Command{
	Use:   "unregister",
	Short: "Release the processing lock if this agent holds it",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := engine.ReleaseLock(rootCtx, resolvedAgentID()); err != nil {
			return err
		}
		emitOrPrint("single", map[string]string{"agent_id": resolvedAgentID(), "released": "true"}, func() {
			fmt.Printf("released lock for %s\n", resolvedAgentID())
		})
		return nil
	},
}

func init() {
	agentsHeartbeatCmd.Flags().Duration("extend", 0, fmt.Sprintf("lease extension (default %s)", queue.DefaultLockTimeout))

	agentsCmd.AddCommand(agentsListCmd, agentsRegisterCmd, agentsHeartbeatCmd, agentsStatusCmd, agentsUnregisterCmd)
	rootCmd.AddCommand(agentsCmd)
}
