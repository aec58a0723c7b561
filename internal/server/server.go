// Package server exposes the approval surface over HTTP: submitting tool
// calls, resolving approvals, the health probe, the SSE event stream, and
// small Discord passthrough endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/penates/penates/internal/bus"
	"github.com/penates/penates/internal/dispatch"
	"github.com/penates/penates/internal/store"
)

// DiscordSender is the channel surface the passthrough endpoints need.
type DiscordSender interface {
	SendMessage(ctx context.Context, channelID, content string) (string, error)
	React(ctx context.Context, channelID, messageID, emoji string) error
	Typing(ctx context.Context, channelID string) error
}

// Server wires the store, dispatcher, and event bus to HTTP handlers.
type Server struct {
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	events     *bus.EventBus
	discord    DiscordSender
	logger     *slog.Logger
}

func New(st *store.Store, d *dispatch.Dispatcher, events *bus.EventBus, discord DiscordSender, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:      st,
		dispatcher: d,
		events:     events,
		discord:    discord,
		logger:     logger.With("component", "server"),
	}
}

// Handler builds the HTTP mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/approvals", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleSubmit(w, r)
	})

	mux.HandleFunc("/approvals/", s.handleApprovalSubpath)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		n, err := s.store.CountPending()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "pending_approvals": n})
	})

	mux.HandleFunc("/events", s.handleEvents)

	mux.HandleFunc("/discord/send", s.handleDiscordSend)
	mux.HandleFunc("/discord/react", s.handleDiscordReact)
	mux.HandleFunc("/discord/typing", s.handleDiscordTyping)

	return mux
}

// ListenAndServe runs the HTTP server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("approval service listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type submitRequest struct {
	Tool        string         `json:"tool"`
	Args        map[string]any `json:"args"`
	Description string         `json:"description,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Tool == "" {
		writeError(w, http.StatusBadRequest, "tool is required")
		return
	}

	outcome := s.dispatcher.Dispatch(r.Context(), req.Tool, req.Args)
	switch outcome.Kind {
	case dispatch.KindExecuted:
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "auto_approved",
			"result": outcome.Result,
			"reason": outcome.Reason,
		})
	case dispatch.KindQueued:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status": "pending",
			"id":     outcome.ApprovalID,
			"reason": outcome.Reason,
		})
	default:
		writeError(w, http.StatusBadRequest, outcome.Err)
	}
}

// handleApprovalSubpath routes /approvals/pending, /approvals/remembered,
// /approvals/{id}, and /approvals/{id}/{action}.
func (s *Server) handleApprovalSubpath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/approvals/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] == "pending":
		s.handleListPending(w, r)
	case len(parts) == 1 && parts[0] == "remembered":
		s.handleListRemembered(w, r)
	case len(parts) == 1 && parts[0] != "":
		s.handleGet(w, r, parts[0])
	case len(parts) == 2:
		s.handleResolve(w, r, parts[0], parts[1])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pending, err := s.store.ListPending()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if pending == nil {
		pending = []*store.Approval{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

func (s *Server) handleListRemembered(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	remembered, err := s.store.ListRemembered()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if remembered == nil {
		remembered = []*store.RememberedCommand{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"remembered": remembered})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	approval, err := s.store.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "approval not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request, id, action string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req resolveRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.ResolvedBy == "" {
		req.ResolvedBy = "api"
	}

	switch action {
	case "approve":
		s.approve(w, r, id, req.ResolvedBy, false)
	case "deny":
		s.deny(w, r, id, req.ResolvedBy)
	case "remember":
		s.approve(w, r, id, req.ResolvedBy, true)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request, id, by string, remember bool) {
	if remember {
		// Remember is only meaningful for shell commands.
		approval, err := s.store.Get(id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "approval not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if approval.Tool != "shell" {
			writeError(w, http.StatusBadRequest, "remember only applies to shell commands")
			return
		}
	}

	approval, err := s.store.Approve(id, by)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "approval not found")
		return
	}
	if errors.Is(err, store.ErrAlreadyResolved) {
		writeError(w, http.StatusBadRequest, "approval already resolved")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := map[string]any{"status": "approved", "id": id}
	if remember {
		pattern := shellCommand(approval)
		if pattern != "" {
			if err := s.store.AddRememberedCommand(pattern, by); err != nil {
				s.logger.Warn("failed to remember command", "approval_id", id, "error", err)
			} else {
				response["status"] = "approved_and_remembered"
				response["pattern"] = pattern
			}
		}
	}

	result := s.dispatcher.ExecuteApproved(r.Context(), approval)
	response["result"] = result
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) deny(w http.ResponseWriter, r *http.Request, id, by string) {
	approval, err := s.store.Deny(id, by)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "approval not found")
		return
	}
	if errors.Is(err, store.ErrAlreadyResolved) {
		writeError(w, http.StatusBadRequest, "approval already resolved")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// A denial leaves the stored record without a result: nothing ran, so
	// there is nothing to attach. The event still names the denier so the
	// agent hears about the refusal.
	if s.events != nil {
		s.events.Publish(bus.EventApprovalResult, map[string]any{
			"approval_id": id,
			"tool":        approval.Tool,
			"status":      store.StatusDenied,
			"result":      fmt.Sprintf("Denied by %s", by),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "denied", "id": id})
}

// shellCommand extracts the command string from a stored shell approval.
func shellCommand(approval *store.Approval) string {
	var params map[string]any
	if err := json.Unmarshal([]byte(approval.Args), &params); err != nil {
		return ""
	}
	cmd, _ := params["command"].(string)
	return strings.TrimSpace(cmd)
}

// handleEvents streams bus events as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := s.events.Subscribe()
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

type discordSendRequest struct {
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
}

func (s *Server) handleDiscordSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.discord == nil {
		writeError(w, http.StatusServiceUnavailable, "discord channel not running")
		return
	}
	var req discordSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeError(w, http.StatusBadRequest, "channel_id and content are required")
		return
	}
	messageID, err := s.discord.SendMessage(r.Context(), req.ChannelID, req.Content)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "sent", "message_id": messageID})
}

type discordReactRequest struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

func (s *Server) handleDiscordReact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.discord == nil {
		writeError(w, http.StatusServiceUnavailable, "discord channel not running")
		return
	}
	var req discordReactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MessageID == "" || req.Emoji == "" {
		writeError(w, http.StatusBadRequest, "channel_id, message_id, and emoji are required")
		return
	}
	if err := s.discord.React(r.Context(), req.ChannelID, req.MessageID, req.Emoji); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reacted"})
}

func (s *Server) handleDiscordTyping(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.discord == nil {
		writeError(w, http.StatusServiceUnavailable, "discord channel not running")
		return
	}
	var req discordSendRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := s.discord.Typing(r.Context(), req.ChannelID); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "typing"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
