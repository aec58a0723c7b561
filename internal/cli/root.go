package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/penates/penates/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"  ____                 _\n" +
		" |  _ \\ ___ _ __   __ _| |_ ___  ___\n" +
		" | |_) / _ \\ '_ \\ / _` | __/ _ \\/ __|\n" +
		" |  __/  __/ | | | (_| | ||  __/\\__ \\\n" +
		" |_|   \\___|_| |_|\\__,_|\\__\\___||___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "penates",
	Short: "Penates - household assistant",
	Long:  color.CyanString(logo) + "\nA household assistant with approval-gated tool execution.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(approvalsCmd)
}
