package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lprior-repo/zjj/internal/queue"
)

var retryCmd = &cobra.Command{
	Use:     "retry <id>",
	Short:   "Retry a failed_retryable queue entry",
	GroupID: GroupQueue,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid entry id %q", args[0])
		}
		entry, err := engine.RetryEntry(rootCtx, id)
		if err != nil {
			return err
		}
		emitOrPrint("single", entry, func() {
			fmt.Printf("retried %s, attempt %d/%d\n", entry.Workspace, entry.AttemptCount, entry.MaxAttempts)
		})
		return nil
	},
}

// undoCmd cancels this agent's most recently claimed, still-in-flight queue
// entry: the closest analogue to "undo my last action" the engine's state
// machine exposes without a separate action log.
var undoCmd = &cobra.Command{
	Use:     "undo",
	Short:   "Cancel this agent's most recent in-flight queue entry",
	GroupID: GroupQueue,
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID := resolvedAgentID()
		entries, err := engine.List(rootCtx, queue.Filter{AgentID: agentID})
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return fmt.Errorf("no in-flight entries for agent %s", agentID)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].StateChangedAt.After(entries[j].StateChangedAt) })
		target := entries[0]

		cancelled, err := engine.CancelEntry(rootCtx, target.ID)
		if err != nil {
			return err
		}
		emitOrPrint("single", cancelled, func() {
			fmt.Printf("undone: cancelled %s\n", cancelled.Workspace)
		})
		return nil
	},
}

// revertCmd restores a session's workspace to its most recent backup,
// discarding working-copy changes made since.
var revertCmd = &cobra.Command{
	Use:     "revert <name>",
	Short:   "Restore a session's workspace to its most recent backup",
	GroupID: GroupIntegrity,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		list, err := backupManager().ListBackups(rootCtx, name)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			return fmt.Errorf("no backups for %s", name)
		}

		path, err := sessionPathByName(name)
		if err != nil {
			return err
		}
		result, err := backupManager().RestoreBackup(rootCtx, list[0].ID, name, path)
		if err != nil {
			return err
		}
		emitOrPrint("single", result, func() {
			fmt.Println(result.Message)
		})
		return nil
	},
}

// rollbackCmd restores a session's workspace to a specific checkpoint id.
var rollbackCmd = &cobra.Command{
	Use:     "rollback <session>",
	Short:   "Restore a session's workspace to a specific checkpoint",
	GroupID: GroupIntegrity,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ckpt, _ := cmd.Flags().GetString("to")
		if ckpt == "" {
			return fmt.Errorf("rollback requires --to <checkpoint-id-or-time>")
		}
		name := args[0]
		path, err := sessionPathByName(name)
		if err != nil {
			return err
		}
		backupList, err := backupManager().ListBackups(rootCtx, name)
		if err != nil {
			return err
		}
		id, err := resolveCheckpointRef(backupList, ckpt)
		if err != nil {
			return err
		}
		result, err := backupManager().RestoreBackup(rootCtx, id, name, path)
		if err != nil {
			return err
		}
		emitOrPrint("single", result, func() {
			fmt.Println(result.Message)
		})
		return nil
	},
}

func init() {
	rollbackCmd.Flags().String("to", "", "checkpoint id to restore")
	rootCmd.AddCommand(retryCmd, undoCmd, revertCmd, rollbackCmd)
}
