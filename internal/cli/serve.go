package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/penates/penates/internal/agent"
	"github.com/penates/penates/internal/bluesky"
	"github.com/penates/penates/internal/bridge"
	"github.com/penates/penates/internal/bus"
	"github.com/penates/penates/internal/channels"
	"github.com/penates/penates/internal/config"
	"github.com/penates/penates/internal/dispatch"
	"github.com/penates/penates/internal/graph"
	"github.com/penates/penates/internal/policy"
	"github.com/penates/penates/internal/scheduler"
	"github.com/penates/penates/internal/server"
	"github.com/penates/penates/internal/store"
	"github.com/penates/penates/internal/tools"
	"github.com/penates/penates/internal/vault"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the assistant (approval service, Discord, scheduler)",
	Run:   runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	printHeader("🏠 Penates")
	fmt.Println("Starting Penates...")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		fmt.Printf("Failed to create data dir: %v\n", err)
		os.Exit(1)
	}

	st, err := store.New(cfg.Paths.DBPath())
	if err != nil {
		fmt.Printf("Failed to open approval store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	pol, err := policy.NewCommandPolicy(cfg.Paths.Allowlist, cfg.Approvals.RequireAll, cfg.Approvals.AllowedRoots, st, logger)
	if err != nil {
		fmt.Printf("Failed to load command policy: %v\n", err)
		os.Exit(1)
	}

	events := bus.NewEventBus(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Discord channel; the rest of the wiring tolerates its absence so
	// the approval service stays usable headless.
	var channel channels.Channel
	if cfg.Discord.Enabled && cfg.Discord.Token != "" {
		discord := channels.NewDiscordChannel(cfg.Discord.Token, cfg.Discord.ChannelID, events, logger)
		instrumented := channels.NewInstrumentedChannel(discord, logger)
		if err := instrumented.Start(ctx); err != nil {
			fmt.Printf("Discord error: %v\n", err)
			os.Exit(1)
		}
		defer instrumented.Stop()
		channel = instrumented
		fmt.Println("💬 Discord channel started")
	} else {
		fmt.Println("ℹ️  Discord disabled")
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewShellTool(tools.DefaultShellTimeout, cfg.Paths.Workspace))
	registry.Register(tools.NewReadFileTool())
	registry.Register(tools.NewWriteFileTool(cfg.Approvals.AllowedRoots))
	registry.Register(tools.NewListDirTool())
	registry.Register(tools.NewFeedTool())

	if v, err := vault.New(cfg.Paths.Vault); err == nil {
		registry.Register(tools.NewSearchNotesTool(v))
		registry.Register(tools.NewReadNoteTool(v))
	} else {
		logger.Warn("vault unavailable", "path", cfg.Paths.Vault, "error", err)
	}

	memoryGraph, err := graph.New(cfg.Paths.GraphDBPath())
	if err != nil {
		fmt.Printf("Failed to open memory graph: %v\n", err)
		os.Exit(1)
	}
	defer memoryGraph.Close()
	registry.Register(tools.NewGraphRememberTool(memoryGraph))
	registry.Register(tools.NewGraphSearchTool(memoryGraph))
	registry.Register(tools.NewGraphConnectionsTool(memoryGraph))
	registry.Register(tools.NewGraphStatsTool(memoryGraph))

	if cfg.Bluesky.Enabled && cfg.Bluesky.Handle != "" {
		bsky := bluesky.NewClient(cfg.Bluesky.Service, cfg.Bluesky.Handle, cfg.Bluesky.Password, logger)
		registry.Register(tools.NewBlueskyPostTool(bsky))
		registry.Register(tools.NewBlueskyReplyTool(bsky))
		registry.Register(tools.NewBlueskySearchTool(bsky))
		registry.Register(tools.NewBlueskyFeedTool(bsky))
		registry.Register(tools.NewBlueskyNotificationsTool(bsky))
		registry.Register(tools.NewBlueskyFollowTool(bsky))
		registry.Register(tools.NewBlueskyUnfollowTool(bsky))
		registry.Register(tools.NewBlueskyUserFeedTool(bsky))
		fmt.Println("🦋 Bluesky tools registered")
	}

	dispatcher := dispatch.New(registry, st, pol, events, logger)

	backend := agent.NewHTTPClient(cfg.Agent.BaseURL, cfg.Agent.Token, logger)
	backend.SetContextLimit(cfg.Agent.ContextWindowLimit)
	orchestrator := agent.NewOrchestrator(backend, dispatcher, channel, cfg.Agent.MaxToolIterations, logger)

	sched := scheduler.New(st, events, func(ctx context.Context, jobName, prompt string) {
		full := fmt.Sprintf("[SCHEDULED JOB: %s]\nCurrent time: %s\n\n%s",
			jobName, time.Now().Format("Mon 2006-01-02 15:04"), prompt)
		if _, err := orchestrator.ProcessMessage(ctx, cfg.Discord.ChannelID, "", full); err != nil {
			logger.Error("scheduled job failed", "job", jobName, "error", err)
		}
	}, logger)
	registry.Register(tools.NewScheduleAddTool(sched))
	registry.Register(tools.NewScheduleRemoveTool(sched))
	registry.Register(tools.NewScheduleListTool(sched))

	srv := server.New(st, dispatcher, events, channel, logger)
	go func() {
		if err := srv.ListenAndServe(ctx, cfg.Service.Addr()); err != nil {
			logger.Error("approval service stopped", "error", err)
			stop()
		}
	}()
	fmt.Printf("🔌 Approval service on %s\n", cfg.Service.Addr())

	approvalBridge := bridge.New(bridge.NewHTTPAPI(cfg.Service.BaseURL()), channel, cfg.Discord.ChannelID, cfg.Approvals.PollInterval, logger)
	if channel != nil {
		go approvalBridge.Run(ctx)
	}

	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			fmt.Printf("Scheduler error: %v\n", err)
			os.Exit(1)
		}
		defer sched.Stop()
		if cfg.Scheduler.PerchInterval > 0 {
			sched.RegisterTick(cfg.Scheduler.PerchInterval, func() {
				prompt := fmt.Sprintf("[PERCH TIME - %s]\nThis is your autonomous tick. Reflect, check your schedule, and act if something needs doing. Use [silent] to stay quiet.",
					time.Now().Format("2006-01-02 15:04"))
				if _, err := orchestrator.ProcessMessage(ctx, cfg.Discord.ChannelID, "", prompt); err != nil {
					logger.Error("perch tick failed", "error", err)
				}
			})
		}
		fmt.Println("⏰ Scheduler started")
	}

	// Hourly sweep of old resolved approvals.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := st.Cleanup(cfg.Approvals.CleanupMaxAge)
				if err != nil {
					logger.Warn("approval cleanup failed", "error", err)
				} else if n > 0 {
					logger.Info("cleaned up resolved approvals", "count", n)
				}
			}
		}
	}()

	go runEventLoop(ctx, events, orchestrator, approvalBridge, cfg.Discord.ChannelID, logger)

	fmt.Println("✅ Penates is running. Press Ctrl+C to stop.")
	<-ctx.Done()
	fmt.Println("\nShutting down...")
}

// turnRunner is the slice of the orchestrator the event loop drives.
type turnRunner interface {
	ProcessMessage(ctx context.Context, chatID, messageID, prompt string) (*agent.TurnResult, error)
}

// reactionHandler gets first claim on reaction events.
type reactionHandler interface {
	HandleReaction(ctx context.Context, messageID, emoji, userID string) bool
}

// runEventLoop drains the bus: chat messages become orchestrator turns,
// reactions go to the approval bridge first, and resolved approvals
// re-enter the orchestrator so the agent hears how its queued tool call
// ended.
func runEventLoop(ctx context.Context, events *bus.EventBus, runner turnRunner, reactions reactionHandler, homeChatID string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ch, cancel := events.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Type {
			case bus.EventDiscordMessage:
				chatID, _ := ev.Data["channel_id"].(string)
				messageID, _ := ev.Data["message_id"].(string)
				author, _ := ev.Data["author"].(string)
				content, _ := ev.Data["content"].(string)
				prompt := fmt.Sprintf("[%s] %s", author, content)
				go func() {
					if _, err := runner.ProcessMessage(ctx, chatID, messageID, prompt); err != nil {
						logger.Error("turn failed", "error", err)
					}
				}()
			case bus.EventDiscordReaction:
				messageID, _ := ev.Data["message_id"].(string)
				emoji, _ := ev.Data["emoji"].(string)
				userID, _ := ev.Data["user_id"].(string)
				if !reactions.HandleReaction(ctx, messageID, emoji, userID) {
					logger.Debug("reaction not tied to an approval", "message_id", messageID, "emoji", emoji)
				}
			case bus.EventApprovalResult:
				tool, _ := ev.Data["tool"].(string)
				status, _ := ev.Data["status"].(string)
				result, _ := ev.Data["result"].(string)
				prompt := approvalResultPrompt(tool, status, result)
				go func() {
					if _, err := runner.ProcessMessage(ctx, homeChatID, "", prompt); err != nil {
						logger.Error("approval result turn failed", "error", err)
					}
				}()
			}
		}
	}
}

// approvalResultPrompt renders a resolved approval as a prompt for the
// agent backend. The suspension around a queued tool call is not a held
// stack frame; this message is how the turn resumes.
func approvalResultPrompt(tool, status, result string) string {
	switch status {
	case store.StatusDenied:
		return fmt.Sprintf("[TOOL RESULT - %s]\nStatus: denied\nThe action was NOT executed because it was denied.", tool)
	case store.StatusApproved:
		if result == "" {
			result = "(no output)"
		}
		return fmt.Sprintf("[TOOL RESULT - %s]\nStatus: approved\nResult: %s", tool, result)
	default:
		return fmt.Sprintf("[TOOL RESULT - %s]\nStatus: %s\nResult: %s", tool, status, result)
	}
}
