package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lprior-repo/zjj/internal/config"
	"github.com/lprior-repo/zjj/internal/lockfile"
	"github.com/lprior-repo/zjj/internal/storage/sqlite"
)

// zjjVersion is reported in the init lock's metadata; there is no build-time
// version stamping yet, so it is a constant placeholder.
const zjjVersion = "dev"

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the store and config files for the current repository",
	Long: `Creates .zjj/state.db and .zjj/config.toml in the current repository
if they do not already exist. Safe to run more than once.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root := currentRepoRoot()
		zjjDir := filepath.Join(root, ".zjj")
		if err := os.MkdirAll(zjjDir, 0o750); err != nil {
			return fmt.Errorf("create .zjj directory: %w", err)
		}

		dbFile := dbPath
		if dbFile == "" {
			dbFile = filepath.Join(zjjDir, "state.db")
		}

		if running, pid := lockfile.TryDaemonLock(zjjDir); running {
			return fmt.Errorf("another zjj init is already running (pid %d)", pid)
		}
		lock, err := lockfile.AcquireDaemonLock(zjjDir, dbFile, zjjVersion)
		if err != nil {
			return fmt.Errorf("acquire init lock: %w", err)
		}
		defer lockfile.ReleaseDaemonLock(lock)

		cfgPath := config.DefaultProjectPath(root)
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			if err := os.WriteFile(cfgPath, []byte(defaultProjectConfig), 0o640); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
		}

		s, err := sqlite.Open(dbFile)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		if err := s.Close(); err != nil {
			return err
		}

		result := map[string]string{"config": cfgPath, "store": dbFile}
		emitOrPrint("single", result, func() {
			fmt.Printf("initialized store at %s\n", dbFile)
		})
		return nil
	},
}

const defaultProjectConfig = `# zjj project configuration
main-branch = "main"
watch-enabled = true
`

func init() {
	rootCmd.AddCommand(initCmd)
}
