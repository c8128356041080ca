package command

// root.go defines the mocktide root command: serve one mapping file until
// shutdown. Flags override values loaded from the environment.

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mocktide/internal/config"
	"mocktide/internal/logging"
	"mocktide/internal/mapping"
)

var (
	envFile        string
	host           string
	port           int
	reportPath     string
	verbose        int
	maxConnections int
	adminAddr      string
)

var rootCmd = &cobra.Command{
	Use:   "mocktide <mapping-file>",
	Short: "mocktide - scriptable TCP protocol double",
	Long: `mocktide listens on a TCP port and replays a fixed script of byte-exact
Send/Recv/Shutdown actions on every accepted connection. Each connection
becomes one testsuite in a JUnit report.

Use "mocktide validate <mapping-file>" to check a mapping without serving it.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runRoot,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "enable debug logging")

	rootCmd.Flags().StringVar(&host, "host", "", "bind host (MOCKTIDE_HOST)")
	rootCmd.Flags().IntVar(&port, "port", 0, "bind port (MOCKTIDE_PORT)")
	rootCmd.Flags().StringVarP(&reportPath, "report", "r", "", "JUnit report path (REPORT_PATH)")
	rootCmd.Flags().IntVar(&maxConnections, "max-connections", 0, "maximum concurrent connections (MAX_CONNECTIONS)")
	rootCmd.Flags().StringVar(&adminAddr, "admin-addr", "", "admin API address, empty disables it (ADMIN_ADDR)")
}

// loadConfig reads the environment and applies explicitly set flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = host
	}
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("report") {
		cfg.ReportPath = reportPath
	}
	if flags.Changed("max-connections") {
		cfg.MaxConnections = maxConnections
	}
	if flags.Changed("admin-addr") {
		cfg.AdminAddr = adminAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runRoot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat, verbose > 0)
	if err != nil {
		return err
	}

	script, err := mapping.Load(args[0])
	if err != nil {
		logger.Error("mapping_load_failed", "path", args[0], "error", err)
		return err
	}

	return serve(cmd.Context(), serveOptions{
		cfg:    cfg,
		script: script,
		logger: logger,
	})
}
