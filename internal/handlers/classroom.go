package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/loksaikotini/EduCast/internal/auth"
	"github.com/loksaikotini/EduCast/internal/models"
	"github.com/loksaikotini/EduCast/internal/service"
)

// ClassroomHandler serves classroom chat history.
type ClassroomHandler struct {
	chats        *service.ClassroomChatService
	historyLimit int
	log          *slog.Logger
}

func NewClassroomHandler(chats *service.ClassroomChatService, historyLimit int, log *slog.Logger) *ClassroomHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ClassroomHandler{chats: chats, historyLimit: historyLimit, log: log}
}

// Messages returns the most recent chat messages of a classroom, oldest
// first, along with how many members are connected to the chat right now.
func (h *ClassroomHandler) Messages(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeServiceError(w, h.log, auth.ErrNoToken)
		return
	}
	code := chi.URLParam(r, "code")
	if err := validateCode(code); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"), h.historyLimit, h.historyLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := h.chats.History(r.Context(), id, code, limit)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"online":   len(h.chats.Online(code)),
	})
}
