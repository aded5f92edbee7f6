package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "apkguard",
	Short: "Scan Android APKs for fake banking apps",
	Long: `apkguard runs an uploaded (or local) APK through a fixed pipeline of
static analyzers and produces a deterministic fraud/malware risk verdict,
tuned to catch applications impersonating banking apps.`,
	Example: `  # Run the HTTP scanning service
  apkguard serve

  # Scan local APKs without the server
  apkguard scan ./sample.apk ./other.apk`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// .env is optional, container deployments set real env vars
		_ = godotenv.Load()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the apkguard version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("apkguard", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (defaults to $CONFIG_PATH, then ./config.yaml)")
	rootCmd.AddCommand(serveCmd, scanCmd, versionCmd)
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return "config.yaml"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
