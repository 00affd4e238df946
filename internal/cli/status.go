package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkdir700/pi-team/internal/model"
	"github.com/mkdir700/pi-team/sdk/go/teamguard"
)

var statusJSON bool

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonStatusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print machine-readable JSON")
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Daemon inspection",
	Long:  "Read-only views over a running daemon, located through the usual\ndiscovery chain: environment, token file, runtime descriptor scan.",
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a daemon is running and healthy",
	RunE:  runDaemonStatus,
}

type daemonStatus struct {
	URL     string `json:"url"`
	PID     int    `json:"pid,omitempty"`
	Version string `json:"version,omitempty"`
	Health  string `json:"health"`
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	c, err := teamguard.New()
	if err != nil {
		return err
	}
	disc := c.Discovery()
	if disc.URL == "" {
		fmt.Fprintln(os.Stderr, "no running daemon discovered")
		os.Exit(1)
	}

	st := daemonStatus{URL: disc.URL}
	if disc.RuntimePath != "" {
		if data, err := os.ReadFile(disc.RuntimePath); err == nil {
			var rt model.Runtime
			if json.Unmarshal(data, &rt) == nil {
				st.PID = rt.PID
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	h, err := c.Health(ctx)
	if err != nil {
		st.Health = "unreachable"
		printStatus(st)
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		os.Exit(1)
	}
	st.Health = h.Status
	st.Version = h.Version
	printStatus(st)
	return nil
}

func printStatus(st daemonStatus) {
	if statusJSON {
		out, _ := json.MarshalIndent(st, "", "  ")
		fmt.Println(string(out))
		return
	}
	fmt.Printf("URL:     %s\n", st.URL)
	if st.PID != 0 {
		fmt.Printf("PID:     %d\n", st.PID)
	}
	if st.Version != "" {
		fmt.Printf("Version: %s\n", st.Version)
	}
	fmt.Printf("Health:  %s\n", st.Health)
}
