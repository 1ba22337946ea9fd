package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkpointCmd = &cobra.Command{
	Use:     "checkpoint <session>",
	Short:   "Create, list, and restore workspace checkpoints",
	GroupID: GroupIntegrity,
}

var checkpointCreateCmd = &cobra.Command{
	Use:   "create <session>",
	Short: "Snapshot a session's workspace as a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		desc, _ := cmd.Flags().GetString("description")
		if desc == "" {
			desc = "manual checkpoint"
		}
		name := args[0]
		path, err := sessionPathByName(name)
		if err != nil {
			return err
		}
		meta, err := backupManager().CreateBackup(rootCtx, name, path, desc)
		if err != nil {
			return err
		}
		emitOrPrint("single", meta, func() {
			fmt.Printf("checkpoint %s created for %s: %s\n", meta.ID, name, desc)
		})
		return nil
	},
}

var checkpointRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Restore a checkpoint to its session's workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("session")
		if name == "" {
			return fmt.Errorf("restore requires --session")
		}
		path, err := sessionPathByName(name)
		if err != nil {
			return err
		}
		backupList, err := backupManager().ListBackups(rootCtx, name)
		if err != nil {
			return err
		}
		id, err := resolveCheckpointRef(backupList, args[0])
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

var checkpointListCmd = &cobra.Command{
	Use:   "list <session>",
	Short: "List checkpoints for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := backupManager().ListBackups(rootCtx, args[0])
		if err != nil {
			return err
		}
		emitOrPrint("list", list, func() {
			for _, b := range list {
				fmt.Printf("%-36s %s %s\n", b.ID, b.CreatedAt.Format("2006-01-02T15:04:05"), b.Reason)
			}
		})
		return nil
	},
}

func init() {
	checkpointCreateCmd.Flags().StringP("description", "d", "", "checkpoint description")
	checkpointRestoreCmd.Flags().String("session", "", "the session to restore the checkpoint into")

	checkpointCmd.AddCommand(checkpointCreateCmd, checkpointRestoreCmd, checkpointListCmd)
	rootCmd.AddCommand(checkpointCmd)
}
