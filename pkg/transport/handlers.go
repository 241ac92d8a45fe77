package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/finrag/pkg/coordinator"
	"github.com/kadirpekel/finrag/pkg/services"
	"github.com/kadirpekel/finrag/pkg/toolclient"
	"github.com/kadirpekel/finrag/pkg/toolserver"
)

const maxBodyBytes = 1 << 20

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ConversationResponse is returned by GET /v1/conversations/{id}.
type ConversationResponse struct {
	ConversationID string                `json:"conversation_id"`
	Messages       []coordinator.Message `json:"messages"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	resp, err := s.chat.ProcessQuery(r.Context(), req.Query, req.ConversationID)
	if err != nil {
		slog.Error("Chat turn failed", "conversation_id", req.ConversationID, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msgs, err := s.chat.GetConversationHistory(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ConversationResponse{ConversationID: id, Messages: msgs})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.ClearConversationHistory(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.tools.ListTools(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	resources, err := s.tools.ListResources(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools, "resources": resources})
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	args := map[string]any{}
	if r.ContentLength != 0 {
		if !decodeBody(w, r, &args) {
			return
		}
	}

	out, err := s.tools.CallTool(r.Context(), name, args)
	if err != nil {
		writeError(w, toolStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tool": name, "result": out})
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		writeError(w, http.StatusBadRequest, "uri is required")
		return
	}
	out, err := s.tools.ReadResource(r.Context(), uri)
	if err != nil {
		writeError(w, resourceStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uri": uri, "contents": out})
}

// toolStatus maps a tool failure onto an HTTP status. Tool errors travel as
// text, so the taxonomy is recovered from the message prefix.
func toolStatus(err error) int {
	var te *toolclient.ToolError
	if !errors.As(err, &te) {
		return http.StatusBadGateway
	}
	switch {
	case strings.HasPrefix(te.Message, toolserver.ErrToolNotFound.Error()):
		return http.StatusNotFound
	case strings.HasPrefix(te.Message, toolserver.ErrToolArgumentInvalid.Error()),
		strings.Contains(te.Message, services.ErrInvalidArgument.Error()):
		return http.StatusBadRequest
	default:
		return http.StatusUnprocessableEntity
	}
}

func resourceStatus(err error) int {
	switch {
	case errors.Is(err, toolserver.ErrResourceSchemeUnknown):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNoData):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}
