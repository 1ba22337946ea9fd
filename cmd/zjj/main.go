package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lprior-repo/zjj/internal/config"
	"github.com/lprior-repo/zjj/internal/git"
	"github.com/lprior-repo/zjj/internal/integrity"
	"github.com/lprior-repo/zjj/internal/logging"
	"github.com/lprior-repo/zjj/internal/queue"
	"github.com/lprior-repo/zjj/internal/session"
	"github.com/lprior-repo/zjj/internal/storage/sqlite"
)

// Command group IDs for help organization.
const (
	GroupSession   = "session"
	GroupQueue     = "queue"
	GroupIntegrity = "integrity"
	GroupAgents    = "agents"
)

var (
	dbPath     string
	actorFlag  string
	agentFlag  string
	jsonOutput bool
	noDaemon   bool

	rootCtx    context.Context
	rootCancel context.CancelFunc

	cfgProvider *config.Provider
	store       *sqlite.SQLiteStorage
	engine      *queue.Engine
	registry    *session.Registry
	backups     *integrity.BackupManager
	logger      *slog.Logger
)

func backupManager() *integrity.BackupManager { return backups }

var rootCmd = &cobra.Command{
	Use:           "zjj",
	Short:         "Isolated development sessions over a merge queue and workspace integrity engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "init" {
			return nil
		}
		return bootstrap()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if store != nil {
			return store.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupSession, Title: "Session:"},
		&cobra.Group{ID: GroupQueue, Title: "Merge queue:"},
		&cobra.Group{ID: GroupIntegrity, Title: "Workspace integrity:"},
		&cobra.Group{ID: GroupAgents, Title: "Agents & locking:"},
	)

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "store path (default: .zjj/state.db)")
	rootCmd.PersistentFlags().StringVar(&actorFlag, "actor", "", "actor name for audit trail")
	rootCmd.PersistentFlags().StringVar(&agentFlag, "agent", "", "agent id for queue/lock operations")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit the versioned JSON envelope")
	rootCmd.PersistentFlags().BoolVar(&noDaemon, "no-daemon", false, "unused placeholder, reserved for a future daemon mode")
}

// bootstrap resolves layered configuration, opens the store, and wires the
// engine and registry every non-init command needs. Mirrors the teacher's
// PersistentPreRun pattern of lazy, once-per-invocation setup.
func bootstrap() error {
	repoRoot, err := git.GetMainRepoRoot()
	if err != nil {
		repoRoot, err = os.Getwd()
		if err != nil {
			return err
		}
	}

	projectConfigPath := config.DefaultProjectPath(repoRoot)
	globalConfigPath, _ := config.DefaultGlobalPath()

	boot := config.LoadBootstrap(projectConfigPath)

	flags := map[string]any{}
	if dbPath != "" {
		flags["db"] = dbPath
	}
	if actorFlag != "" {
		flags["actor"] = actorFlag
	}

	provider, err := config.Load(globalConfigPath, projectConfigPath, flags)
	if err != nil {
		return err
	}
	cfgProvider = provider
	snap := provider.Snapshot()

	logger = logging.New(os.Stderr, snap.LogLevel)
	slog.SetDefault(logger)

	resolvedDB := boot.DB
	if dbPath != "" {
		resolvedDB = dbPath
	}
	if !filepath.IsAbs(resolvedDB) {
		resolvedDB = filepath.Join(repoRoot, resolvedDB)
	}

	recoveryPolicy, err := queue.ParseRecoveryPolicy(snap.RecoveryPolicy)
	if err != nil {
		return err
	}

	s, err := sqlite.OpenWithRecoveryPolicy(resolvedDB, recoveryPolicy)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	store = s
	engine = queue.NewEngine(store, logger)
	engine.SetRecoveryPolicy(recoveryPolicy)

	sessionStore := sqlite.NewSessionStore(store)
	validator := integrity.NewValidator()
	backups = integrity.NewBackupManager(filepath.Join(repoRoot, ".zjj", "backups"))
	repairer := integrity.NewRepairer(backups)

	workspaceDir := config.ResolveWorkspaceDir(snap.WorkspaceDir, filepath.Base(repoRoot))
	workspaceFor := func(name string) string { return filepath.Join(workspaceDir, name) }

	registry = session.NewRegistry(sessionStore, engine, validator, repairer, repoRoot, workspaceFor, nil, logger)

	return nil
}

func resolvedAgentID() string {
	if agentFlag != "" {
		return agentFlag
	}
	if cfgProvider != nil {
		if id := cfgProvider.Snapshot().AgentID; id != "" {
			return id
		}
	}
	if actorFlag != "" {
		return actorFlag
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown-agent"
}

func currentRepoRoot() string {
	root, err := git.GetMainRepoRoot()
	if err != nil {
		root, _ = os.Getwd()
	}
	return root
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	rootCmd.SetContext(rootCtx)
	if err := rootCmd.Execute(); err != nil {
		failCommand(err)
	}
}
