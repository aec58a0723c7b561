package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/penates/penates/internal/bridge"
	"github.com/penates/penates/internal/config"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Inspect and resolve pending approvals",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var approvalsResolvedBy string

func approvalAPI() (*bridge.HTTPAPI, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return bridge.NewHTTPAPI(cfg.Service.BaseURL()), nil
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending approvals",
	Run: func(cmd *cobra.Command, args []string) {
		api, err := approvalAPI()
		if err != nil {
			fmt.Printf("Config error: %v\n", err)
			os.Exit(1)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pending, err := api.ListPending(ctx)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		if len(pending) == 0 {
			fmt.Println("No pending approvals.")
			return
		}
		for _, a := range pending {
			fmt.Printf("%s  %s  %s\n",
				color.YellowString(a.ApprovalID),
				color.CyanString("%-12s", a.Tool),
				a.Description)
		}
	},
}

func resolveCmd(use, short, action string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			api, err := approvalAPI()
			if err != nil {
				fmt.Printf("Config error: %v\n", err)
				os.Exit(1)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			res, err := api.Resolve(ctx, args[0], action, approvalsResolvedBy)
			if errors.Is(err, bridge.ErrGone) {
				fmt.Println(color.YellowString("Approval not found or already resolved."))
				os.Exit(1)
			}
			if errors.Is(err, bridge.ErrNotApplicable) {
				fmt.Println(color.YellowString("That action does not apply to this approval."))
				os.Exit(1)
			}
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			switch res.Status {
			case "denied":
				fmt.Println(color.RedString("❌ Denied."))
			case "approved_and_remembered":
				fmt.Println(color.GreenString("🔓 Approved and remembered: %s", res.Pattern))
				fmt.Println(res.Result)
			default:
				fmt.Println(color.GreenString("✅ Approved."))
				fmt.Println(res.Result)
			}
		},
	}
}

func init() {
	approvalsCmd.PersistentFlags().StringVar(&approvalsResolvedBy, "by", "cli", "who is resolving the approval")
	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(resolveCmd("approve", "Approve a pending request and execute it", "approve"))
	approvalsCmd.AddCommand(resolveCmd("deny", "Deny a pending request", "deny"))
	approvalsCmd.AddCommand(resolveCmd("remember", "Approve a shell command and remember its prefix", "remember"))
}
