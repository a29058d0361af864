package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/switchboard-ai/switchboard/internal/server"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session status from a running switchboard daemon",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "Daemon address (default http://127.0.0.1:<config port>)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	addr := statusAddr
	if addr == "" {
		port := 8080
		if cfg, _, err := loadConfig(); err == nil && cfg.HTTP.Port != 0 {
			port = cfg.HTTP.Port
		}
		addr = fmt.Sprintf("http://127.0.0.1:%d", port)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(addr + "/v1/servers")
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	var statuses []server.ServerStatus
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if len(statuses) == 0 {
		fmt.Println("no servers registered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tSTATE\tSESSION\tTOOLS\tERROR\t")
	for _, st := range statuses {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t\n", st.Name, st.State, st.SessionID, st.OperationCount, st.Error)
	}
	return w.Flush()
}
