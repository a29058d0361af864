package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/switchboard-ai/switchboard/internal/config"
	"github.com/switchboard-ai/switchboard/internal/event"
	"github.com/switchboard-ai/switchboard/internal/notify"
	"github.com/switchboard-ai/switchboard/internal/orchestrator"
	"github.com/switchboard-ai/switchboard/internal/prefs"
	"github.com/switchboard-ai/switchboard/internal/registry"
	"github.com/switchboard-ai/switchboard/internal/storage"
	"github.com/switchboard-ai/switchboard/internal/toolindex"
	"github.com/switchboard-ai/switchboard/internal/transport"
)

var toolsServer string

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Connect once and list the tools the servers expose",
	Long: `Connect to every enabled server from the config file, print the
discovered tools, and disconnect.

Examples:
  switchboard tools                     # List tools from all servers
  switchboard tools --server weather    # List tools from one server`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().StringVar(&toolsServer, "server", "", "Only list tools from this server")
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	if err := config.GetPaths().EnsurePaths(); err != nil {
		return err
	}

	store := storage.New(filepath.Join(cfg.DataDir, "preferences"))
	reg := registry.New()
	bus := event.NewBus()
	defer bus.Close()

	orch := orchestrator.New(reg, transport.NewSDKDialer(), bus,
		prefs.NewBridge(store, reg), toolindex.New(), notify.New(reg),
		orchestrator.Options{
			ConnectRetries:  cfg.ConnectRetries,
			DisconnectGrace: time.Duration(cfg.DisconnectGrace) * time.Millisecond,
		})
	defer orch.DisconnectAll()

	servers := cfg.Servers
	if toolsServer != "" {
		servers = nil
		for _, sc := range cfg.Servers {
			if sc.Name == toolsServer {
				servers = append(servers, sc)
			}
		}
		if len(servers) == 0 {
			return fmt.Errorf("server %q not found in config", toolsServer)
		}
	}

	result := orch.ConnectMany(cmd.Context(), servers)
	for _, outcome := range result.Outcomes {
		if outcome.Status == orchestrator.OutcomeFailed {
			fmt.Fprintf(os.Stderr, "warning: %s: %v\n", outcome.ServerName, outcome.Err)
		}
	}
	if result.Succeeded == 0 {
		return fmt.Errorf("no servers connected (%d attempted)", result.Attempted)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tTOOL\tDESCRIPTION\t")
	for _, record := range orch.Registry().Connected() {
		for _, op := range record.Operations {
			fmt.Fprintf(w, "%s\t%s\t%s\t\n", op.ServerName, op.Name, op.Description)
		}
	}
	w.Flush()

	summary := orch.Index().Summarize()
	fmt.Printf("\n%d tools across %d servers\n", summary.TotalOperations, len(summary.Servers))
	return nil
}
