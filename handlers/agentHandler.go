package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"fraudchat/models"
	"fraudchat/services"
	"fraudchat/services/agent"

	"github.com/gorilla/mux"
)

type AgentHandler struct {
	service     *agent.Service
	transcripts *services.TranscriptService
}

// NewAgentHandler builds the conversation API. transcripts may be nil when no
// history database is configured.
func NewAgentHandler(service *agent.Service, transcripts *services.TranscriptService) *AgentHandler {
	return &AgentHandler{service: service, transcripts: transcripts}
}

func (h *AgentHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/sessions", h.CreateSession).Methods("POST")
	router.HandleFunc("/sessions/{id}", h.CloseSession).Methods("DELETE")
	router.HandleFunc("/sessions/{id}/messages", h.SubmitMessage).Methods("POST")
	router.HandleFunc("/sessions/{id}/messages", h.GetHistory).Methods("GET")
	router.HandleFunc("/sessions/{id}/charts/{chartID}", h.GetChart).Methods("GET")
	router.HandleFunc("/sessions/{id}/transcript", h.GetTranscript).Methods("GET")
}

func (h *AgentHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	log.Printf("[INFO] Received create session request")

	sess, err := h.service.NewSession(r.Context())
	if err != nil {
		log.Printf("[ERROR] Failed to create session: %v", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, err.Error(), "")
		return
	}

	table := sess.Table()
	response := models.CreateSessionResponse{
		SessionID: sess.ID,
		Greeting:  sess.Greeting,
		Source:    string(table.SourceKind()),
		Rows:      table.Rows(),
	}

	log.Printf("[INFO] Session %s created", sess.ID)
	h.writeJSONResponse(w, http.StatusCreated, response)
}

func (h *AgentHandler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	log.Printf("[INFO] Received message for session %s", sessionID)

	var req models.AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[ERROR] Failed to decode agent request JSON: %v", err)
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON payload", "")
		return
	}

	msg, err := h.service.SubmitUserTurn(r.Context(), sessionID, req.Text)
	if err != nil {
		log.Printf("[ERROR] Turn failed for session %s: %v", sessionID, err)
		h.writeServiceError(w, err)
		return
	}

	history, err := h.service.History(sessionID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	log.Printf("[INFO] Turn completed for session %s", sessionID)
	h.writeJSONResponse(w, http.StatusOK, models.AgentResponse{Message: *msg, HistoryLen: len(history)})
}

func (h *AgentHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	history, err := h.service.History(sessionID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, models.HistoryResponse{SessionID: sessionID, Messages: history})
}

func (h *AgentHandler) GetChart(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	img, err := h.service.Chart(vars["id"], vars["chartID"])
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(img.PNG)
}

func (h *AgentHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	if h.transcripts == nil {
		h.writeErrorResponse(w, http.StatusNotFound, "Transcripts are not enabled", "")
		return
	}

	messages, err := h.transcripts.GetTranscript(r.Context(), sessionID)
	if err != nil {
		log.Printf("[ERROR] Failed to get transcript: %v", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, err.Error(), "")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, models.HistoryResponse{SessionID: sessionID, Messages: messages})
}

func (h *AgentHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	if err := h.service.CloseSession(sessionID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AgentHandler) writeServiceError(w http.ResponseWriter, err error) {
	var turnErr *agent.TurnError
	switch {
	case errors.Is(err, agent.ErrSessionNotFound), errors.Is(err, agent.ErrChartNotFound):
		h.writeErrorResponse(w, http.StatusNotFound, err.Error(), "")
	case errors.Is(err, agent.ErrEmptyInput):
		h.writeErrorResponse(w, http.StatusBadRequest, err.Error(), "")
	case errors.As(err, &turnErr):
		h.writeErrorResponse(w, turnStatus(turnErr.Category), err.Error(), turnErr.Category)
	default:
		h.writeErrorResponse(w, http.StatusInternalServerError, err.Error(), "")
	}
}

func turnStatus(category string) int {
	switch category {
	case agent.CategoryRateLimited:
		return http.StatusTooManyRequests
	case agent.CategoryUnavailable:
		return http.StatusServiceUnavailable
	case agent.CategoryRejected:
		return http.StatusBadGateway
	case agent.CategoryCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *AgentHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (h *AgentHandler) writeErrorResponse(w http.ResponseWriter, statusCode int, message, category string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(models.ErrorResponse{Error: message, Category: category})
}
