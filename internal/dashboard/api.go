package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stellarlinkco/cauldronwatch/internal/assistant"
	"github.com/stellarlinkco/cauldronwatch/internal/config"
	"github.com/stellarlinkco/cauldronwatch/internal/telemetry"
	"github.com/stellarlinkco/cauldronwatch/internal/transcript"
)

const (
	SessionHeader  = "X-Session-ID"
	maxHistoryDays = 30
	maxBodyBytes   = 64 << 10
)

// ChatService is the transcript-aware chat used by the chat endpoints.
type ChatService interface {
	Send(ctx context.Context, session, text string) ([]transcript.Message, error)
	History(session string) ([]transcript.Message, error)
	Clear(session string) ([]transcript.Message, error)
}

// Analyzer runs the discrepancy agent.
type Analyzer interface {
	Analyze(ctx context.Context, ds []telemetry.Discrepancy, readings []telemetry.Reading) (*assistant.Report, error)
}

// API serves the dashboard JSON endpoints.
type API struct {
	Hub     *Hub
	Chat    ChatService
	Agent   Analyzer
	Metrics http.Handler

	HistoryDays   int
	CourierFlagAt int
}

func NewAPI(hub *Hub, cfg config.DashboardConfig) *API {
	return &API{
		Hub:           hub,
		HistoryDays:   cfg.HistoryDays,
		CourierFlagAt: cfg.CourierFlagAt,
	}
}

// Register mounts the API routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/cauldrons", a.handleCauldrons)
	mux.HandleFunc("GET /api/network", a.handleNetwork)
	mux.HandleFunc("GET /api/summary", a.handleSummary)
	mux.HandleFunc("GET /api/discrepancies", a.handleDiscrepancies)
	mux.HandleFunc("POST /api/discrepancies/regenerate", a.handleRegenerate)
	mux.HandleFunc("GET /api/history", a.handleHistory)
	mux.HandleFunc("GET /api/stats/daily", a.handleDailyStats)
	mux.HandleFunc("GET /api/couriers/flagged", a.handleFlagged)
	mux.HandleFunc("GET /api/chat/history", a.handleChatHistory)
	mux.HandleFunc("DELETE /api/chat/history", a.handleChatClear)
	mux.HandleFunc("POST /api/chat", a.handleChat)
	mux.HandleFunc("POST /api/agent/analyze", a.handleAnalyze)
	if a.Metrics != nil {
		mux.Handle("GET /metrics", a.Metrics)
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.Register(mux)
	return mux
}

func (a *API) handleCauldrons(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Hub.Readings())
}

func (a *API) handleNetwork(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"market":   a.Hub.Dataset().Market,
		"couriers": a.Hub.Dataset().Couriers,
		"readings": a.Hub.NetworkReadings(),
	})
}

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"summary":   a.Hub.Summary(),
		"updatedAt": a.Hub.UpdatedAt(),
	})
}

func (a *API) handleDiscrepancies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f DiscrepancyFilter
	if sev := strings.ToLower(strings.TrimSpace(q.Get("severity"))); sev != "" {
		switch telemetry.Severity(sev) {
		case telemetry.SeverityLow, telemetry.SeverityMedium, telemetry.SeverityHigh:
			f.Severity = telemetry.Severity(sev)
		default:
			writeError(w, http.StatusBadRequest, "unknown severity "+strconv.Quote(sev))
			return
		}
	}
	if raw := q.Get("unresolved"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid unresolved flag")
			return
		}
		f.UnresolvedOnly = v
	}
	ds := a.Hub.Discrepancies(f)
	writeJSON(w, http.StatusOK, map[string]any{
		"discrepancies": ds,
		"counts":        telemetry.SeverityCounts(ds),
	})
}

func (a *API) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"discrepancies": a.Hub.RegenerateDiscrepancies()})
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	days := a.HistoryDays
	if days <= 0 {
		days = config.DefaultHistoryDays
	}
	if raw := r.URL.Query().Get("days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxHistoryDays {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 30")
			return
		}
		days = v
	}
	writeJSON(w, http.StatusOK, a.Hub.History(days))
}

func (a *API) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Hub.DailyStats())
}

func (a *API) handleFlagged(w http.ResponseWriter, r *http.Request) {
	threshold := a.CourierFlagAt
	if threshold <= 0 {
		threshold = config.DefaultCourierFlagAt
	}
	writeJSON(w, http.StatusOK, a.Hub.FlaggedCouriers(threshold))
}

func sessionID(r *http.Request) string {
	if s := strings.TrimSpace(r.Header.Get(SessionHeader)); s != "" {
		return s
	}
	return transcript.DefaultSession
}

func (a *API) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	if a.Chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat assistant is not configured")
		return
	}
	msgs, err := a.Chat.History(sessionID(r))
	if err != nil {
		log.Printf("[dashboard] load chat history: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load chat history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transcript": msgs})
}

func (a *API) handleChatClear(w http.ResponseWriter, r *http.Request) {
	if a.Chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat assistant is not configured")
		return
	}
	msgs, err := a.Chat.Clear(sessionID(r))
	if err != nil {
		log.Printf("[dashboard] clear chat history: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to clear chat history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transcript": msgs})
}

type chatRequest struct {
	Message string `json:"message"`
}

func (a *API) handleChat(w http.ResponseWriter, r *http.Request) {
	if a.Chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat assistant is not configured")
		return
	}
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	msgs, err := a.Chat.Send(r.Context(), sessionID(r), req.Message)
	switch {
	case err != nil && msgs == nil:
		log.Printf("[dashboard] chat: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load chat history")
	case err != nil:
		log.Printf("[dashboard] chat completion failed: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "transcript": msgs})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"reply":      msgs[len(msgs)-1].Content,
			"transcript": msgs,
		})
	}
}

func (a *API) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if a.Agent == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis agent is not configured")
		return
	}
	start := time.Now()
	report, err := a.Agent.Analyze(r.Context(), a.Hub.Discrepancies(DiscrepancyFilter{}), a.Hub.Readings())
	if err != nil {
		log.Printf("[dashboard] agent analysis failed: %v", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	ds := a.Hub.ApplyResolutions(report.ResolvedIDs)
	log.Printf("[dashboard] agent report %s: %d actions in %s", report.ID, report.ActionsCount, time.Since(start).Round(time.Millisecond))
	writeJSON(w, http.StatusOK, map[string]any{
		"report":        report,
		"discrepancies": ds,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[dashboard] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
