package cli

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/penates/penates/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ Penates Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 Penates Status")
		fmt.Printf("Version: %s\n", version)

		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Config:  ✗ %v\n", err)
			return
		}
		if _, err := os.Stat(cfg.Paths.DBPath()); err == nil {
			fmt.Println("Database: ✓ Found (" + cfg.Paths.DBPath() + ")")
		} else {
			fmt.Println("Database: ✗ Not found (run 'penates serve' first)")
		}
		if cfg.Discord.Token != "" {
			fmt.Println("Discord:  ✓ Token set")
		} else {
			fmt.Println("Discord:  ✗ No token")
		}
		if cfg.Bluesky.Handle != "" {
			fmt.Println("Bluesky:  ✓ " + cfg.Bluesky.Handle)
		} else {
			fmt.Println("Bluesky:  ✗ Not configured")
		}

		client := &http.Client{Timeout: 2 * time.Second}
		resp, err := client.Get(cfg.Service.BaseURL() + "/health")
		if err == nil {
			resp.Body.Close()
			fmt.Println("Service:  ✓ Running (" + cfg.Service.BaseURL() + ")")
		} else {
			fmt.Println("Service:  ✗ Not reachable")
		}
	},
}
