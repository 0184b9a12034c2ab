// Package httpapi exposes the relay's REST surface: chat history access for
// page loads, direct agent chat for the widget fallback, agent health, and
// the back-office account deletion check.
package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/tuniway/relay/internal/agent"
	"github.com/tuniway/relay/internal/auth"
	"github.com/tuniway/relay/internal/chat"
	"github.com/tuniway/relay/internal/history"
	"github.com/tuniway/relay/internal/metrics"
	"github.com/tuniway/relay/internal/rules"
)

// AgentBridge is the slice of the agent client the REST handlers need.
type AgentBridge interface {
	Forward(text string) *agent.Response
	IsAlive() bool
}

// API bundles the REST handlers and their collaborators. The rules chain and
// token service are optional; their endpoints degrade gracefully when the
// backing services are not configured.
type API struct {
	history *history.Buffer
	bridge  AgentBridge
	chain   *rules.Chain       // nil when Postgres is not configured
	tokens  *auth.TokenService // nil when no admin secret is set
}

// New creates the REST API over the given collaborators.
func New(hist *history.Buffer, bridge AgentBridge, chain *rules.Chain, tokens *auth.TokenService) *API {
	return &API{
		history: hist,
		bridge:  bridge,
		chain:   chain,
		tokens:  tokens,
	}
}

// Mount registers the API routes on the given mux.
func (a *API) Mount(mux *http.ServeMux) {
	mux.HandleFunc("/api/chat/history", a.handleHistory)
	mux.HandleFunc("/api/chat/clear", a.handleClear)
	mux.HandleFunc("/api/chatbot/chat", a.handleAgentChat)
	mux.HandleFunc("/api/chatbot/health", a.handleAgentHealth)
	mux.HandleFunc("/api/users/deletable", a.handleDeletable)
}

// handleHistory serves the room's recent messages. GET returns the buffered
// events oldest first; POST appends an externally produced event (used by
// back-office imports), subject to the same validation as live traffic.
func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.history.Snapshot())

	case http.MethodPost:
		var ev chat.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := chat.ValidateEvent(ev); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if ev.Ts == 0 {
			ev.Stamp()
		}
		a.history.Append(ev)
		metrics.HistorySize.Set(float64(a.history.Len()))
		writeJSON(w, http.StatusOK, ev)

	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleClear empties the history buffer. When a token service is
// configured, the request must carry a valid admin bearer token.
func (a *API) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.Header().Set("Allow", "DELETE")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if a.tokens != nil {
		claims, err := a.authorize(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		log.Printf("httpapi: history cleared by %s", claims.Username)
	}

	a.history.Clear()
	metrics.HistorySize.Set(0)
	w.WriteHeader(http.StatusNoContent)
}

// authorize extracts and validates the bearer token from the request.
func (a *API) authorize(r *http.Request) (*auth.Claims, error) {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	return a.tokens.Validate(token)
}

// chatRequest is the body for direct agent chat.
type chatRequest struct {
	Message string `json:"message"`
}

// handleAgentChat forwards a message straight to the conversational agent,
// bypassing the chat room. Used by the website widget when the visitor has
// not joined the room.
func (a *API) handleAgentChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "Message cannot be empty",
			"error":   "Invalid request",
		})
		return
	}

	resp := a.bridge.Forward(req.Message)
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleAgentHealth reports whether the conversational agent's health probe
// answers. The relay itself is healthy either way, so this always returns
// 200 with an availability flag.
func (a *API) handleAgentHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	alive := a.bridge.IsAlive()
	status := "DOWN"
	if alive {
		status = "UP"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"service":   "TuniBot",
		"available": alive,
	})
}

// handleDeletable runs the account deletion eligibility chain for the user
// identified by the user_id and role query parameters.
func (a *API) handleDeletable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if a.chain == nil {
		writeError(w, http.StatusServiceUnavailable, "deletion checks not configured")
		return
	}

	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	role := r.URL.Query().Get("role")
	switch role {
	case rules.RoleClient, rules.RoleGuide, rules.RoleAdmin:
	default:
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}

	result, err := a.chain.Evaluate(r.Context(), rules.User{ID: userID, Role: role})
	if err != nil {
		log.Printf("httpapi: deletion check failed user_id=%d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "deletion check failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("httpapi: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
