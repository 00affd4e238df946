package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mkdir700/pi-team/internal/config"
	"github.com/mkdir700/pi-team/internal/daemon"
	"github.com/mkdir700/pi-team/internal/logging"
	"github.com/mkdir700/pi-team/internal/model"
)

var (
	serveRoot    string
	serveTeam    string
	servePort    int
	serveToken   string
	serveConfig  string
	serveLogLvl  string
	serveLogJSON bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveRoot, "root", "", "Workspace root directory (default ~/.pi-team)")
	serveCmd.Flags().StringVar(&serveTeam, "team", "", "Team ID to serve (required)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP listen port (0 picks a free one)")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "Bearer token (minted when empty)")
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Path to config YAML")
	serveCmd.Flags().StringVar(&serveLogLvl, "log-level", "", "Log level: debug, info, warn, error")
	serveCmd.Flags().BoolVar(&serveLogJSON, "log-json", false, "Emit JSON logs instead of console output")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the team daemon",
	Long:  "Starts the daemon for one team: scaffolds the team directory, takes the\nlock file, mints a credential and serves the loopback HTTP API until\nSIGINT or SIGTERM.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfig)
	if err != nil {
		return err
	}

	// Flags override file values.
	if cmd.Flags().Changed("root") {
		cfg.WorkspaceRoot = serveRoot
	}
	if cmd.Flags().Changed("team") {
		cfg.Team = serveTeam
	}
	if cmd.Flags().Changed("port") {
		cfg.ListenPort = servePort
	}
	if cmd.Flags().Changed("token") {
		cfg.Token = serveToken
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = serveLogLvl
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON = serveLogJSON
	}

	if cfg.Team == "" {
		return fmt.Errorf("a team is required: pass --team or set team in the config file")
	}

	log := logging.New(logging.Config{Level: cfg.Log.Level, JSON: cfg.Log.JSON})

	d, err := daemon.Start(daemon.Config{
		Root:            config.ExpandHome(cfg.WorkspaceRoot),
		Team:            cfg.Team,
		Port:            cfg.ListenPort,
		Token:           cfg.Token,
		Version:         model.Version,
		DefaultLeaseTTL: cfg.LeaseDefaultTTL(),
		Logger:          log,
	})
	if err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Fprintf(os.Stderr, "teamd serving team %q on %s\n", cfg.Team, d.URL())
	fmt.Fprintln(os.Stderr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Fprintln(os.Stderr, "\nShutting down teamd...")

	return d.Close()
}
