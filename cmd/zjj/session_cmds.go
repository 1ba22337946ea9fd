package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lprior-repo/zjj/internal/session"
)

var addCmd = &cobra.Command{
	Use:     "add <name>",
	Short:   "Create a new session (workspace + terminal tab)",
	GroupID: GroupSession,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		beadID, _ := cmd.Flags().GetString("bead")
		dedupe, _ := cmd.Flags().GetString("dedupe-key")
		priority, _ := cmd.Flags().GetInt("priority")
		noOpen, _ := cmd.Flags().GetBool("no-open")
		idempotent, _ := cmd.Flags().GetBool("idempotent")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		if dryRun {
			emitOrPrint("single", map[string]string{"name": name, "bead_id": beadID}, func() {
				fmt.Printf("would create session %s (dry run)\n", name)
			})
			return nil
		}

		resp, err := registry.Create(rootCtx, name, session.CreateOptions{
			BeadID:    beadID,
			AgentID:   resolvedAgentID(),
			DedupeKey: dedupe,
			Priority:  priority,
			NoOpen:    noOpen,
		})
		if err != nil {
			if idempotent && isAlreadyExists(err) {
				return nil
			}
			return err
		}

		emitOrPrint("single", resp, func() {
			fmt.Printf("created session %s at %s\n", resp.Session.Name, resp.Session.WorkspacePath)
			if resp.Queued {
				fmt.Printf("queued: position %d of %d pending\n", resp.Position, resp.TotalPending)
			}
		})
		return nil
	},
}

func isAlreadyExists(err error) bool {
	return err == session.ErrAlreadyExists
}

var removeCmd = &cobra.Command{
	Use:     "remove <name>",
	Short:   "Delete a session",
	GroupID: GroupSession,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		merge, _ := cmd.Flags().GetBool("merge")
		keepBranch, _ := cmd.Flags().GetBool("keep-branch")
		idempotent, _ := cmd.Flags().GetBool("idempotent")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		err := registry.Remove(rootCtx, args[0], session.RemoveOptions{
			Force:      force,
			Merge:      merge,
			KeepBranch: keepBranch,
			Idempotent: idempotent,
			DryRun:     dryRun,
		})
		if err != nil {
			return err
		}
		emitOrPrint("single", map[string]string{"name": args[0], "removed": "true"}, func() {
			fmt.Printf("removed session %s\n", args[0])
		})
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List sessions",
	GroupID: GroupSession,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		beadID, _ := cmd.Flags().GetString("bead")
		agentID, _ := cmd.Flags().GetString("agent")

		filter := session.Filter{All: all, BeadID: beadID, AgentID: agentID}
		sessions, err := registry.List(rootCtx, filter)
		if err != nil {
			return err
		}

		emitOrPrint("list", sessions, func() {
			for _, s := range sessions {
				suffix := ""
				if s.Paused {
					suffix = " (paused)"
				}
				fmt.Printf("%-20s %s%s\n", s.Name, s.WorkspacePath, suffix)
			}
		})
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status [name]",
	Short:   "Show session and merge queue status",
	GroupID: GroupSession,
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			stats, err := engine.Stats(rootCtx)
			if err != nil {
				return err
			}
			emitOrPrint("single", stats, func() {
				fmt.Printf("pending=%d processing=%d completed=%d failed=%d total=%d\n",
					stats.Pending, stats.Processing, stats.Completed, stats.Failed, stats.Total)
			})
			return nil
		}

		name := args[0]
		sessions, err := registry.List(rootCtx, session.Filter{All: true})
		if err != nil {
			return err
		}
		var found *session.Session
		for i := range sessions {
			if sessions[i].Name == name {
				found = &sessions[i]
				break
			}
		}
		if found == nil {
			return session.ErrNotFound
		}

		entry, qerr := engine.GetByWorkspace(rootCtx, name)
		result := map[string]any{"session": found}
		if qerr == nil {
			result["queue_entry"] = entry
		}

		emitOrPrint("single", result, func() {
			fmt.Printf("%s: %s\n", found.Name, found.WorkspacePath)
			if qerr == nil {
				fmt.Printf("queue status: %s\n", entry.Status)
			}
		})
		return nil
	},
}

var focusCmd = &cobra.Command{
	Use:     "focus <name>",
	Aliases: []string{"switch", "attach"},
	Short:   "Switch the active terminal tab to a session",
	GroupID: GroupSession,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := registry.Focus(rootCtx, args[0]); err != nil {
			return err
		}
		emitOrPrint("single", map[string]string{"focused": args[0]}, func() {
			fmt.Printf("focused %s\n", args[0])
		})
		return nil
	},
}

var renameCmd = &cobra.Command{
	Use:     "rename <old> <new>",
	Short:   "Rename a session",
	GroupID: GroupSession,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := registry.Rename(rootCtx, args[0], args[1]); err != nil {
			return err
		}
		emitOrPrint("single", map[string]string{"old": args[0], "new": args[1]}, func() {
			fmt.Printf("renamed %s -> %s\n", args[0], args[1])
		})
		return nil
	},
}

var cloneCmd = &cobra.Command{
	Use:     "clone <source> <dest>",
	Short:   "Create a new session with its own workspace, copying source's bead, agent and metadata",
	GroupID: GroupSession,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		clone, err := registry.Clone(rootCtx, args[0], args[1])
		if err != nil {
			return err
		}
		emitOrPrint("single", clone, func() {
			fmt.Printf("cloned %s -> %s at %s\n", args[0], clone.Name, clone.WorkspacePath)
		})
		return nil
	},
}

var pauseCmd = &cobra.Command{
	Use:     "pause <name>",
	Short:   "Mark a session paused",
	GroupID: GroupSession,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := registry.Pause(rootCtx, args[0]); err != nil {
			return err
		}
		emitOrPrint("single", map[string]string{"paused": args[0]}, func() {
			fmt.Printf("paused %s\n", args[0])
		})
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:     "resume <name>",
	Short:   "Clear a session's paused flag",
	GroupID: GroupSession,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := registry.Resume(rootCtx, args[0]); err != nil {
			return err
		}
		emitOrPrint("single", map[string]string{"resumed": args[0]}, func() {
			fmt.Printf("resumed %s\n", args[0])
		})
		return nil
	},
}

func init() {
	addCmd.Flags().String("bead", "", "associated bead id")
	addCmd.Flags().String("dedupe-key", "", "idempotency key for the merge queue submission")
	addCmd.Flags().Int("priority", 0, "merge queue priority (lower claims first)")
	addCmd.Flags().Bool("no-open", false, "do not switch the terminal tab to the new session")
	addCmd.Flags().Bool("idempotent", false, "succeed silently if the session already exists")
	addCmd.Flags().Bool("dry-run", false, "print what would happen without creating anything")

	removeCmd.Flags().Bool("force", false, "proceed past non-fatal merge/forget failures")
	removeCmd.Flags().Bool("merge", false, "squash-merge the workspace to main before removing it")
	removeCmd.Flags().Bool("keep-branch", false, "do not delete the workspace directory")
	removeCmd.Flags().Bool("idempotent", false, "succeed silently if the session does not exist")
	removeCmd.Flags().Bool("dry-run", false, "print what would happen without removing anything")

	listCmd.Flags().Bool("all", false, "list every session (sessions have no terminal state and removed ones are deleted, so this matches the default)")
	listCmd.Flags().String("bead", "", "filter by bead id")
	listCmd.Flags().String("agent", "", "filter by owning agent id")

	rootCmd.AddCommand(addCmd, removeCmd, listCmd, statusCmd, focusCmd, renameCmd, cloneCmd, pauseCmd, resumeCmd)
}
