// Package cmd implements the engine's command line surface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	cfgFile   string
	orgID     string
	actorUser string
	verbose   bool
	quiet     bool
	noColor   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "backup-orchestrator",
	Short: "Per-organization backup and restore orchestration",
	Long: `backup-orchestrator manages per-organization backups, schedules, and
guarded restores.

Backups capture the organization's entity categories into a compressed
(optionally encrypted) archive on a configured storage disk. Restores walk a
guarded workflow: analysis, category selection, conflict resolution,
confirmation, execution, and rollback. Every state-changing operation is
recorded in an append-only audit ledger.

Examples:
  # Create and run a backup
  backup-orchestrator backup create --org org-1 --name "pre-migration"

  # Start the restore workflow for a backup
  backup-orchestrator restore analyze <backup-id> --org org-1

  # Run the schedule worker
  backup-orchestrator worker --config /etc/backup-orchestrator.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./backup-orchestrator.yaml)")
	rootCmd.PersistentFlags().StringVar(&orgID, "org", "", "organization id the command operates on")
	rootCmd.PersistentFlags().StringVar(&actorUser, "user", "cli", "user id recorded in the audit ledger")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	viper.BindPFlag("org", rootCmd.PersistentFlags().Lookup("org"))
	viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("backup-orchestrator")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("BACKUP_ORCHESTRATOR")
	viper.AutomaticEnv()

	// Missing config file is fine; defaults and environment apply.
	_ = viper.ReadInConfig()

	if orgID == "" {
		orgID = viper.GetString("org")
	}
	if actorUser == "cli" && viper.GetString("user") != "" {
		actorUser = viper.GetString("user")
	}
}

// configPath resolves the engine config file path for the loader.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return "backup-orchestrator.yaml"
}

// versionCmd prints the build version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("backup-orchestrator %s\n", version)
	},
}

// configCmd manages the engine configuration file
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the engine configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Print a commented sample configuration",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(sampleConfig)
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
}

const sampleConfig = `# backup-orchestrator configuration

database:
  # mysql or memory. The memory driver keeps records in-process only.
  driver: memory
  # dsn: user:password@tcp(localhost:3306)/backup_orchestrator

# Entity data location when the memory driver is active. The mysql driver
# reads entities from the database above.
dataset:
  base_path: ./data

storage:
  - disk: local
    local:
      base_path: ./backups
  # - disk: s3
  #   s3:
  #     bucket: org-backups
  #     region: eu-west-1

compression:
  algorithm: zstd   # none, gzip, lz4, zstd
  level: 3

encryption:
  enabled: false
  key_source: env             # env or file
  key_env_var: BACKUP_ORCHESTRATOR_ENCRYPTION_KEY
  key_ref: primary

# smtp:
#   host: mail.example.com
#   port: 587
#   username: backups
#   password: secret
#   from: backups@example.com

scheduler:
  poll_interval: 1m

logging:
  level: normal     # quiet, normal, verbose, debug
  format: text      # text or json

# Organization names back the typed confirmation on destructive restores.
organizations:
  - id: org-1
    name: Acme Corp
`
