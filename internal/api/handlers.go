package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldset/quotad/internal/models"
	"github.com/fieldset/quotad/internal/quota"
)

// AdmitRequest is the request body for POST /respondents
type AdmitRequest struct {
	VendorRespondentID string          `json:"vendor_respondent_id,omitempty"`
	Answers            []models.Answer `json:"answers"`
}

// AdmitResponse is the response for POST /respondents
type AdmitResponse struct {
	RespondentID string                  `json:"respondent_id"`
	Status       models.RespondentStatus `json:"status"`
	Reason       string                  `json:"reason,omitempty"`
	Dimension    string                  `json:"dimension,omitempty"`
	RedirectURL  string                  `json:"redirect_url,omitempty"`
}

// CompleteRequest is the request body for POST /respondents/{id}/complete
type CompleteRequest struct {
	ResponseID string `json:"response_id"`
}

// TransitionResponse is the response for complete and terminate
type TransitionResponse struct {
	RespondentID string                  `json:"respondent_id"`
	Status       models.RespondentStatus `json:"status"`
	ResponseID   string                  `json:"response_id,omitempty"`
	RedirectURL  string                  `json:"redirect_url,omitempty"`
}

// RespondentListResponse is the response for GET /respondents
type RespondentListResponse struct {
	Total       int                 `json:"total"`
	Respondents []models.Respondent `json:"respondents"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleAdmit handles POST /api/v1/surveys/{surveyID}/respondents
func (s *Server) handleAdmit(w http.ResponseWriter, r *http.Request) {
	surveyID := chi.URLParam(r, "surveyID")

	var req AdmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := s.engine.Admit(r.Context(), surveyID, req.VendorRespondentID, req.Answers)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, AdmitResponse{
		RespondentID: res.Respondent.ID,
		Status:       res.Verdict.Status,
		Reason:       string(res.Verdict.Reason),
		Dimension:    res.Verdict.Dimension,
		RedirectURL:  res.RedirectURL,
	})
}

// handleComplete handles POST /api/v1/surveys/{surveyID}/respondents/{respondentID}/complete
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	surveyID := chi.URLParam(r, "surveyID")
	respondentID := chi.URLParam(r, "respondentID")

	var req CompleteRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	resp, redirect, err := s.engine.Complete(r.Context(), surveyID, respondentID, req.ResponseID)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, TransitionResponse{
		RespondentID: resp.ID,
		Status:       resp.Status,
		ResponseID:   resp.ResponseID,
		RedirectURL:  redirect,
	})
}

// handleTerminate handles POST /api/v1/surveys/{surveyID}/respondents/{respondentID}/terminate
func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	surveyID := chi.URLParam(r, "surveyID")
	respondentID := chi.URLParam(r, "respondentID")

	resp, redirect, err := s.engine.Terminate(r.Context(), surveyID, respondentID)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, TransitionResponse{
		RespondentID: resp.ID,
		Status:       resp.Status,
		RedirectURL:  redirect,
	})
}

// handleRespondentGet handles GET /api/v1/surveys/{surveyID}/respondents/{respondentID}
func (s *Server) handleRespondentGet(w http.ResponseWriter, r *http.Request) {
	surveyID := chi.URLParam(r, "surveyID")
	respondentID := chi.URLParam(r, "respondentID")

	resp, err := s.respondents.GetByID(respondentID)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	if resp == nil || resp.SurveyID != surveyID {
		s.sendError(w, http.StatusNotFound, "Respondent not found")
		return
	}

	s.sendJSON(w, http.StatusOK, resp)
}

// handleRespondentsList handles GET /api/v1/surveys/{surveyID}/respondents
func (s *Server) handleRespondentsList(w http.ResponseWriter, r *http.Request) {
	surveyID := chi.URLParam(r, "surveyID")

	filter := models.RespondentListFilter{
		VendorRespondentID: r.URL.Query().Get("vendor_respondent_id"),
		Limit:              queryInt(r, "limit", 100),
		Offset:             queryInt(r, "offset", 0),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = models.RespondentStatus(status)
		if !filter.Status.Valid() {
			s.sendError(w, http.StatusBadRequest, "invalid status filter: "+status)
			return
		}
	}

	respondents, total, err := s.respondents.List(surveyID, filter)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, RespondentListResponse{
		Total:       total,
		Respondents: respondents,
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: "0.1.0",
		Uptime:  time.Since(s.startTime).String(),
	})
}

// sendDomainError maps domain errors to HTTP status codes.
func (s *Server) sendDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, quota.ErrConfiguration):
		s.sendError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, quota.ErrNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, quota.ErrConflict):
		s.sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, quota.ErrTransientStore):
		s.logger.Error("storage error", "error", err)
		s.sendError(w, http.StatusServiceUnavailable, "Storage temporarily unavailable")
	default:
		s.logger.Error("internal error", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// queryInt parses an integer query parameter with a fallback.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
