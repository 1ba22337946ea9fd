package main

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lprior-repo/zjj/internal/integrity"
	"github.com/lprior-repo/zjj/internal/session"
)

var integrityCmd = &cobra.Command{
	Use:     "integrity",
	Short:   "Validate and repair workspace integrity",
	GroupID: GroupIntegrity,
}

var integrityValidateCmd = &cobra.Command{
	Use:   "validate [name]",
	Short: "Check a session's (or every session's) workspace for corruption",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		if all || len(args) == 0 {
			sessions, err := registry.List(rootCtx, session.Filter{All: true})
			if err != nil {
				return err
			}
			results := make(map[string]integrity.ValidationResult, len(sessions))
			var mu sync.Mutex
			g, gctx := errgroup.WithContext(rootCtx)
			g.SetLimit(8)
			for _, s := range sessions {
				s := s
				g.Go(func() error {
					vr, err := registry.Validate(gctx, s.Name)
					if err != nil {
						return err
					}
					mu.Lock()
					results[s.Name] = vr
					mu.Unlock()
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			emitOrPrint("list", results, func() {
				for name, vr := range results {
					fmt.Printf("%-20s valid=%v issues=%d\n", name, vr.IsValid(), len(vr.Issues))
				}
			})
			return nil
		}

		vr, err := registry.Validate(rootCtx, args[0])
		if err != nil {
			return err
		}
		emitOrPrint("single", vr, func() {
			fmt.Printf("%s: valid=%v\n", args[0], vr.IsValid())
			for _, issue := range vr.Issues {
				fmt.Printf("  %s: %s (recommended: %s)\n", issue.Kind, issue.Description, issue.Strategy)
			}
		})
		return nil
	},
}

var integrityRepairCmd = &cobra.Command{
	Use:   "repair <name>",
	Short: "Repair a session's workspace using its recommended or a specified strategy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		strategyName, _ := cmd.Flags().GetString("strategy")

		vr, err := registry.Validate(rootCtx, args[0])
		if err != nil {
			return err
		}
		if vr.IsValid() {
			emitOrPrint("single", vr, func() {
				fmt.Printf("%s: no issues found\n", args[0])
			})
			return nil
		}

		strategy := vr.MostSevereIssue().Strategy
		if strategyName != "" {
			s, err := parseStrategy(strategyName)
			if err != nil {
				return err
			}
			strategy = s
		}
		if strategy.MayLoseData() && !force {
			return fmt.Errorf("repair strategy %s may lose data; pass --force to proceed", strategy)
		}

		result, err := registry.Repair(rootCtx, args[0], strategy, true)
		if err != nil {
			return err
		}
		emitOrPrint("single", result, func() {
			fmt.Printf("%s: %s (success=%v)\n", args[0], result.Summary, result.Success)
		})
		return nil
	},
}

func parseStrategy(name string) (integrity.RepairStrategy, error) {
	for s := integrity.ClearStaleLock; s <= integrity.NoRepairPossible; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return integrity.NoRepairPossible, fmt.Errorf("unknown repair strategy %q", name)
}

var integrityBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage workspace backups",
}

var integrityBackupListCmd = &cobra.Command{
	Use:   "list <name>",
	Short: "List backups for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backups, err := backupManager().ListBackups(rootCtx, args[0])
		if err != nil {
			return err
		}
		emitOrPrint("list", backups, func() {
			for _, b := range backups {
				fmt.Printf("%-36s %s (%d bytes) %s\n", b.ID, b.CreatedAt.Format("2006-01-02T15:04:05"), b.SizeBytes, b.Reason)
			}
		})
		return nil
	},
}

var integrityBackupRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Restore a backup to its session's workspace path",
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
		result, err := backupManager().RestoreBackup(rootCtx, args[0], name, path)
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
	integrityValidateCmd.Flags().Bool("all", false, "validate every session")
	integrityRepairCmd.Flags().Bool("force", false, "proceed even if the strategy may lose data")
	integrityRepairCmd.Flags().String("strategy", "", "override the recommended repair strategy")
	integrityBackupRestoreCmd.Flags().String("session", "", "the session to restore the backup into")

	integrityBackupCmd.AddCommand(integrityBackupListCmd, integrityBackupRestoreCmd)
	integrityCmd.AddCommand(integrityValidateCmd, integrityRepairCmd, integrityBackupCmd)
	rootCmd.AddCommand(integrityCmd)
}
