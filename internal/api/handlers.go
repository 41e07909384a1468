package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zattra/wablast/internal/dispatch"
)

// RecipientPayload is a single campaign recipient as submitted by clients.
type RecipientPayload struct {
	Phone   string `json:"phone"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
}

// StartCampaignRequest is the body of POST /api/v1/campaigns.
type StartCampaignRequest struct {
	Recipients []RecipientPayload `json:"recipients"`
	Media      []string           `json:"media,omitempty"`
	Caption    string             `json:"caption,omitempty"`
}

// StartCampaignResponse is returned when a campaign is accepted.
type StartCampaignResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":  "ok",
		"uptime":  time.Since(s.startTime).String(),
		"version": "1.0",
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleStartCampaign accepts a new campaign and starts it in the background.
func (s *Server) handleStartCampaign(w http.ResponseWriter, r *http.Request) {
	var req StartCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	recipients := make([]dispatch.Recipient, len(req.Recipients))
	for i, rp := range req.Recipients {
		recipients[i] = dispatch.Recipient{
			Phone:   rp.Phone,
			Name:    rp.Name,
			Message: rp.Message,
		}
	}

	id, err := s.manager.Start(recipients, req.Media, req.Caption)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrCampaignRunning):
			s.sendError(w, http.StatusConflict, err.Error())
		case errors.Is(err, dispatch.ErrNoRecipients), errors.Is(err, dispatch.ErrNoContent):
			s.sendError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("failed to start campaign", "error", err)
			s.sendError(w, http.StatusInternalServerError, "failed to start campaign")
		}
		return
	}

	s.sendJSON(w, http.StatusAccepted, StartCampaignResponse{ID: id, Status: "accepted"})
}

// handleProgress returns the progress snapshot for a campaign.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, ok := s.manager.Progress(id)
	if !ok {
		s.sendError(w, http.StatusNotFound, "campaign not found")
		return
	}

	s.sendJSON(w, http.StatusOK, snap)
}

// handleOutcomes returns the journaled per-message outcomes for a campaign.
func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.journal == nil {
		s.sendError(w, http.StatusNotFound, "outcome journal disabled")
		return
	}

	// Reject unknown handles so clients can tell "no outcomes yet"
	// apart from a typo in the campaign id.
	if _, ok := s.manager.Progress(id); !ok {
		rec, err := s.journal.GetCampaign(id)
		if err != nil || rec == nil {
			s.sendError(w, http.StatusNotFound, "campaign not found")
			return
		}
	}

	records, err := s.journal.List(id)
	if err != nil {
		s.logger.Error("failed to read outcome journal", "campaign", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to read outcomes")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"campaign": id,
		"count":    len(records),
		"outcomes": records,
	})
}

// handleCancel requests cancellation of a campaign.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !s.manager.Cancel(id) {
		s.sendError(w, http.StatusNotFound, "campaign not found")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]string{"id": id, "status": "cancelling"})
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, errorResponse{Error: message})
}
