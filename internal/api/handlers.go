package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BridgeWell/CareFlow/internal/genai"
	"github.com/BridgeWell/CareFlow/internal/models"
)

// messageRequest is the body of POST /conversations/{userID}/messages. Time
// is optional unix seconds; zero means the turn is stamped on arrival.
type messageRequest struct {
	Body string `json:"body"`
	Time int64  `json:"time,omitempty"`
}

// messageHandler handles POST /conversations/{userID}/messages.
func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	slog.Debug("messageHandler invoked", "method", r.Method, "path", r.URL.Path, "userID", userID)

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("messageHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	msg := models.IncomingMessage{UserID: userID, Body: req.Body, Time: req.Time}
	replies, err := s.processor.ProcessMessage(r.Context(), msg)
	if err != nil {
		s.writeProcessingError(w, userID, err)
		return
	}
	if replies == nil {
		replies = []string{}
	}

	writeJSONResponse(w, http.StatusOK, models.Success(map[string][]string{"replies": replies}))
}

// writeProcessingError maps pipeline errors to API status codes.
func (s *Server) writeProcessingError(w http.ResponseWriter, userID string, err error) {
	switch {
	case errors.Is(err, models.ErrEmptyUserID),
		errors.Is(err, models.ErrEmptyMessageBody),
		errors.Is(err, models.ErrMessageBodyTooLong):
		slog.Warn("messageHandler validation failed", "userID", userID, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	case errors.Is(err, models.ErrSessionEnded):
		slog.Warn("messageHandler session already ended", "userID", userID)
		writeJSONResponse(w, http.StatusConflict, models.Error("Session has ended"))
	case errors.Is(err, genai.ErrRemoteFailure):
		slog.Error("messageHandler generation backend unavailable", "userID", userID, "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Generation service unavailable"))
	default:
		slog.Error("messageHandler processing failed", "userID", userID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
	}
}

// getConversationHandler handles GET /conversations/{userID}.
func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	slog.Debug("getConversationHandler invoked", "userID", userID)

	conv, err := s.st.GetConversation(userID)
	if err != nil {
		slog.Error("getConversationHandler load failed", "userID", userID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation"))
		return
	}
	if conv == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(conv))
}

// deleteConversationHandler handles DELETE /conversations/{userID}.
func (s *Server) deleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	slog.Debug("deleteConversationHandler invoked", "userID", userID)

	conv, err := s.st.GetConversation(userID)
	if err != nil {
		slog.Error("deleteConversationHandler load failed", "userID", userID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation"))
		return
	}
	if conv == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}

	if err := s.st.DeleteConversation(userID); err != nil {
		slog.Error("deleteConversationHandler delete failed", "userID", userID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete conversation"))
		return
	}
	slog.Info("deleteConversationHandler conversation deleted", "userID", userID)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"user_id": userID}))
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}
