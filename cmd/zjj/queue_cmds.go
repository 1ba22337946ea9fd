package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lprior-repo/zjj/internal/git"
	"github.com/lprior-repo/zjj/internal/queue"
	"github.com/lprior-repo/zjj/internal/session"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	Short:   "Inspect and control the merge queue",
	GroupID: GroupQueue,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List merge queue entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		beadID, _ := cmd.Flags().GetString("bead")
		agentID, _ := cmd.Flags().GetString("agent")
		stateStr, _ := cmd.Flags().GetString("state")

		filter := queue.Filter{All: all, BeadID: beadID, AgentID: agentID}
		if stateStr != "" {
			st, err := queue.ParseStatus(stateStr)
			if err != nil {
				return fmt.Errorf("unknown state %q: %w", stateStr, err)
			}
			filter.Status = &st
		}

		entries, err := engine.List(rootCtx, filter)
		if err != nil {
			return err
		}
		emitOrPrint("list", entries, func() {
			printTableHeader("ID", "WORKSPACE", "STATUS")
			for _, e := range entries {
				fmt.Printf("%-6d %-20s %-16s priority=%d attempts=%d/%d\n", e.ID, e.Workspace, e.Status, e.Priority, e.AttemptCount, e.MaxAttempts)
			}
		})
		return nil
	},
}

var queueAddCmd = &cobra.Command{
	Use:   "add <workspace>",
	Short: "Submit a workspace to the merge queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		beadID, _ := cmd.Flags().GetString("bead")
		priority, _ := cmd.Flags().GetInt("priority")
		dedupe, _ := cmd.Flags().GetString("dedupe-key")

		resp, err := engine.UpsertForSubmit(rootCtx, queue.UpsertRequest{
			Workspace: args[0],
			BeadID:    beadID,
			Priority:  priority,
			AgentID:   resolvedAgentID(),
			DedupeKey: dedupe,
		})
		if err != nil {
			return err
		}
		emitOrPrint("single", resp, func() {
			fmt.Printf("submitted %s: position %d of %d pending\n", args[0], resp.Position, resp.TotalPending)
		})
		return nil
	},
}

var queueNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Claim the next pending queue entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		entry, err := engine.ClaimNext(rootCtx, resolvedAgentID())
		if err != nil {
			return err
		}
		if entry == nil {
			emitOrPrint("single", nil, func() { fmt.Println("no work available") })
			return nil
		}
		emitOrPrint("single", entry, func() {
			fmt.Printf("claimed %s (id=%d)\n", entry.Workspace, entry.ID)
		})
		return nil
	},
}

var queueStatusCmd = &cobra.Command{
	Use:   "status <workspace>",
	Short: "Show a single queue entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entry, err := engine.GetByWorkspace(rootCtx, args[0])
		if err != nil {
			return err
		}
		emitOrPrint("single", entry, func() {
			fmt.Printf("%s: %s (attempts %d/%d)\n", entry.Workspace, entry.Status, entry.AttemptCount, entry.MaxAttempts)
		})
		return nil
	},
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove <workspace>",
	Short: "Cancel a workspace's queue entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entry, err := engine.GetByWorkspace(rootCtx, args[0])
		if err != nil {
			return err
		}
		cancelled, err := engine.CancelEntry(rootCtx, entry.ID)
		if err != nil {
			return err
		}
		emitOrPrint("single", cancelled, func() {
			fmt.Printf("cancelled %s\n", args[0])
		})
		return nil
	},
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate merge queue counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := engine.Stats(rootCtx)
		if err != nil {
			return err
		}
		emitOrPrint("single", stats, func() {
			fmt.Printf("total=%d pending=%d processing=%d completed=%d failed=%d\n",
				stats.Total, stats.Pending, stats.Processing, stats.Completed, stats.Failed)
		})
		return nil
	},
}

// submit is a top-level alias for `queue add`, matching the command surface
// of SPEC_FULL.md §6.1.
var submitCmd = &cobra.Command{
	Use:     "submit <workspace>",
	Short:   "Submit a workspace to the merge queue (alias of `queue add`)",
	GroupID: GroupQueue,
	Args:    cobra.ExactArgs(1),
	RunE:    queueAddCmd.RunE,
}

// doneCmd drives a Testing entry to ReadyToMerge and attempts the merge,
// comparing the workspace's tested_against_sha against main's current head
// (the freshness guard, SPEC_FULL.md §4.3.3).
var doneCmd = &cobra.Command{
	Use:     "done <workspace>",
	Short:   "Mark a workspace's tests passed and attempt to merge it",
	GroupID: GroupQueue,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		workspace := args[0]
		if err := engine.MarkReady(rootCtx, workspace); err != nil {
			return err
		}

		mainHead, err := git.MainBranchHead(rootCtx, currentRepoRoot(), cfgProvider.Snapshot().MainBranch)
		if err != nil {
			return fmt.Errorf("read main branch head: %w", err)
		}

		fresh, err := engine.AttemptMerge(rootCtx, workspace, mainHead)
		if err != nil {
			return err
		}
		if !fresh {
			emitOrPrint("single", map[string]string{"workspace": workspace, "status": "returned_to_rebasing"}, func() {
				fmt.Printf("%s is stale against %s, returned to rebasing\n", workspace, mainHead)
			})
			return nil
		}

		path, perr := sessionPathByName(workspace)
		mergeCommit := mainHead
		if perr == nil {
			if head, herr := git.CurrentHead(rootCtx, path); herr == nil {
				mergeCommit = head
			}
		}
		if err := engine.CompleteMerge(rootCtx, workspace, mergeCommit); err != nil {
			return err
		}
		emitOrPrint("single", map[string]string{"workspace": workspace, "merge_commit": mergeCommit}, func() {
			fmt.Printf("merged %s at %s\n", workspace, mergeCommit)
		})
		return nil
	},
}

// syncCmd rebases a session's workspace onto main's current head and
// records the new head_sha/tested_against_sha, transitioning Claimed (or
// an entry already in Rebasing, as after a freshness bounce) to Testing.
var syncCmd = &cobra.Command{
	Use:     "sync <name>",
	Short:   "Rebase a session's workspace onto main and update its freshness baseline",
	GroupID: GroupQueue,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		mainHead, err := git.MainBranchHead(rootCtx, currentRepoRoot(), cfgProvider.Snapshot().MainBranch)
		if err != nil {
			return fmt.Errorf("read main branch head: %w", err)
		}

		workspacePath, err := sessionPathByName(name)
		if err != nil {
			return err
		}

		entry, err := engine.GetByWorkspace(rootCtx, name)
		if err != nil {
			return err
		}

		if entry.Status == queue.Claimed {
			if err := engine.StartRebase(rootCtx, name); err != nil {
				return err
			}
		}

		rebaseRes := git.Rebase(rootCtx, workspacePath, mainHead)
		if !rebaseRes.Success() {
			return fmt.Errorf("rebase failed: %s", rebaseRes.Stderr)
		}

		headSHA, err := git.CurrentHead(rootCtx, workspacePath)
		if err != nil {
			return err
		}

		if err := engine.UpdateRebaseMetadata(rootCtx, name, headSHA, mainHead); err != nil {
			return err
		}

		emitOrPrint("single", map[string]string{"workspace": name, "head_sha": headSHA, "tested_against_sha": mainHead}, func() {
			fmt.Printf("synced %s onto %s (head=%s)\n", name, mainHead, headSHA)
		})
		return nil
	},
}

// sessionPathByName looks up name's workspace directory through the session
// registry (the source of truth for filesystem paths; queue entries key
// workspaces by name only).
func sessionPathByName(name string) (string, error) {
	sessions, err := registry.List(rootCtx, session.Filter{All: true})
	if err != nil {
		return "", err
	}
	for _, s := range sessions {
		if s.Name == name {
			return s.WorkspacePath, nil
		}
	}
	return "", fmt.Errorf("session %s not found", name)
}

var diffCmd = &cobra.Command{
	Use:     "diff <name>",
	Short:   "Show a session's uncommitted changes",
	GroupID: GroupSession,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := sessionPathByName(args[0])
		if err != nil {
			return err
		}

		res := git.Diff(rootCtx, path)
		if jsonOutput {
			emitData("single", map[string]string{"workspace": args[0], "diff": res.Stdout})
			return nil
		}
		fmt.Fprint(os.Stdout, res.Stdout)
		return nil
	},
}

func init() {
	queueListCmd.Flags().Bool("all", false, "include terminal entries")
	queueListCmd.Flags().String("bead", "", "filter by bead id")
	queueListCmd.Flags().String("agent", "", "filter by owning agent id")
	queueListCmd.Flags().String("state", "", "filter by exact status")

	queueAddCmd.Flags().String("bead", "", "associated bead id")
	queueAddCmd.Flags().Int("priority", 0, "priority (lower claims first)")
	queueAddCmd.Flags().String("dedupe-key", "", "idempotency key")
	submitCmd.Flags().AddFlagSet(queueAddCmd.Flags())

	queueCmd.AddCommand(queueListCmd, queueAddCmd, queueNextCmd, queueStatusCmd, queueRemoveCmd, queueStatsCmd)
	rootCmd.AddCommand(queueCmd, submitCmd, doneCmd, syncCmd, diffCmd)
}
