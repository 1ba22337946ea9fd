package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:     "db",
	Short:   "Store maintenance commands",
	GroupID: GroupIntegrity,
}

// dbPurgeCorruptedCmd implements the destructive recovery policy SPEC_FULL.md
// §9 resolves as opt-in only: deleting an unrecoverable store plus its WAL
// and shared-memory files. It never runs from config or a default flag,
// only an explicit --force on an explicit invocation, or an interactive
// confirmation when one is possible.
var dbPurgeCorruptedCmd = &cobra.Command{
	Use:   "purge-corrupted",
	Short: "Delete an unrecoverable store file and its WAL/SHM siblings",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		target := cfgProvider.Snapshot().DB

		if !force && !confirmDestructive(fmt.Sprintf("permanently delete %s and its WAL/SHM files", target)) {
			return fmt.Errorf("purge-corrupted refused: pass --force or confirm interactively")
		}

		removed := []string{}
		for _, suffix := range []string{"", "-wal", "-shm"} {
			path := target + suffix
			if err := os.Remove(path); err == nil {
				removed = append(removed, path)
			} else if !os.IsNotExist(err) {
				return fmt.Errorf("remove %s: %w", path, err)
			}
		}

		emitOrPrint("single", map[string]any{"removed": removed}, func() {
			for _, p := range removed {
				fmt.Printf("removed %s\n", p)
			}
		})
		return nil
	},
}

func init() {
	dbPurgeCorruptedCmd.Flags().Bool("force", false, "purge without an interactive confirmation")
	dbCmd.AddCommand(dbPurgeCorruptedCmd)
	rootCmd.AddCommand(dbCmd)
}
