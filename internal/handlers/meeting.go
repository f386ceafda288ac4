package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/loksaikotini/EduCast/internal/registry"
	"github.com/loksaikotini/EduCast/internal/service"
	"github.com/pion/webrtc/v4"
)

// MeetingHandler serves the meeting REST endpoints.
type MeetingHandler struct {
	svc        *service.MeetingService
	iceServers []webrtc.ICEServer
	log        *slog.Logger
}

// NewMeetingHandler advertises iceURLs as one STUN/TURN entry to clients.
func NewMeetingHandler(s *service.MeetingService, iceURLs []string, log *slog.Logger) *MeetingHandler {
	if log == nil {
		log = slog.Default()
	}
	var servers []webrtc.ICEServer
	if len(iceURLs) > 0 {
		servers = []webrtc.ICEServer{{URLs: iceURLs}}
	}
	return &MeetingHandler{svc: s, iceServers: servers, log: log}
}

type participantResponse struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Name       string    `json:"name"`
	Role       string    `json:"role,omitempty"`
	HandRaised bool      `json:"handRaised"`
	JoinedAt   time.Time `json:"joinedAt"`
}

func toParticipantResponses(ps []registry.Participant) []participantResponse {
	out := make([]participantResponse, len(ps))
	for i, p := range ps {
		out[i] = participantResponse{
			ID:         p.ConnID,
			UserID:     p.UserID,
			Name:       p.Name,
			Role:       p.Role,
			HandRaised: p.HandRaised,
			JoinedAt:   p.JoinedAt,
		}
	}
	return out
}

// Check reports whether a meeting room is live.
func (h *MeetingHandler) Check(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := validateCode(code); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	size := h.svc.RoomSize(code)
	if size == 0 {
		respondError(w, http.StatusNotFound, "Meeting room not found or is empty.")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message":      "Meeting room exists.",
		"participants": size,
	})
}

// Participants lists who is in a live meeting room.
func (h *MeetingHandler) Participants(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := validateCode(code); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ps := h.svc.Participants(code)
	if len(ps) == 0 {
		writeServiceError(w, h.log, service.ErrRoomNotFound)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"code":         registry.NormalizeCode(code),
		"participants": toParticipantResponses(ps),
	})
}

// NewCode mints a meeting code that no live room uses.
func (h *MeetingHandler) NewCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.svc.NewMeetingCode()
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"code": code})
}

// ICEServers returns the STUN/TURN servers clients should use.
func (h *MeetingHandler) ICEServers(w http.ResponseWriter, r *http.Request) {
	servers := h.iceServers
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"iceServers": servers})
}

// Health reports liveness and registry totals.
func (h *MeetingHandler) Health(w http.ResponseWriter, r *http.Request) {
	stats, conns := h.svc.Stats()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"rooms":        stats.Rooms,
		"participants": stats.Participants,
		"connections":  conns,
	})
}
