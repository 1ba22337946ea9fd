package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lprior-repo/zjj/internal/session"
)

// exportableSession is the presentation shape for session export: the
// opaque Metadata map renders the same in JSON and YAML, so one struct
// serves both via emitOrPrint and a yaml.Encoder.
type exportableSession struct {
	Name      string            `json:"name" yaml:"name"`
	Bead      string            `json:"bead_id,omitempty" yaml:"bead_id,omitempty"`
	Agent     string            `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
	Workspace string            `json:"workspace_path" yaml:"workspace_path"`
	Paused    bool              `json:"paused" yaml:"paused"`
	Metadata  map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

var sessionExportCmd = &cobra.Command{
	Use:     "export <name>",
	Short:   "Export a session's metadata as JSON or YAML",
	GroupID: GroupSession,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		sessions, err := registry.List(rootCtx, session.Filter{All: true})
		if err != nil {
			return err
		}
		var sess *session.Session
		for i, s := range sessions {
			if s.Name == args[0] {
				sess = &sessions[i]
				break
			}
		}
		if sess == nil {
			return fmt.Errorf("session %s not found", args[0])
		}

		out := exportableSession{
			Name:      sess.Name,
			Bead:      sess.BeadID,
			Agent:     sess.AgentID,
			Workspace: sess.WorkspacePath,
			Paused:    sess.Paused,
			Metadata:  sess.Metadata,
		}

		switch format {
		case "", "json":
			emitOrPrint("single", out, func() {
				fmt.Printf("%+v\n", out)
			})
			return nil
		case "yaml":
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(out)
		default:
			return fmt.Errorf("unknown export format %q (want json or yaml)", format)
		}
	},
}

func init() {
	sessionExportCmd.Flags().String("format", "json", "export format: json or yaml")
	rootCmd.AddCommand(sessionExportCmd)
}
