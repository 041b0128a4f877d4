package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fieldset/quotad/internal/models"
	"github.com/fieldset/quotad/internal/quota"
	"github.com/fieldset/quotad/internal/vendor"
)

// Quota management handlers

// QuotaRequest is the request for PUT /api/v1/surveys/{surveyID}/quota
type QuotaRequest struct {
	TotalTarget   int                  `json:"total_target"`
	IsActive      *bool                `json:"is_active,omitempty"`
	VendorManaged bool                 `json:"vendor_managed,omitempty"`
	CompletedURL  string               `json:"completed_url,omitempty"`
	TerminatedURL string               `json:"terminated_url,omitempty"`
	QuotaFullURL  string               `json:"quota_full_url,omitempty"`
	Buckets       []models.QuotaBucket `json:"buckets"`
}

// QuotaResponse is the stored quota definition with its buckets
type QuotaResponse struct {
	Quota   *models.QuotaConfig  `json:"quota"`
	Buckets []models.QuotaBucket `json:"buckets"`
}

// handleQuotaPut handles PUT /api/v1/surveys/{surveyID}/quota
func (s *Server) handleQuotaPut(w http.ResponseWriter, r *http.Request) {
	surveyID := chi.URLParam(r, "surveyID")

	var req QuotaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cfg := &models.QuotaConfig{
		SurveyID:      surveyID,
		TotalTarget:   req.TotalTarget,
		IsActive:      true,
		VendorManaged: req.VendorManaged,
		CompletedURL:  req.CompletedURL,
		TerminatedURL: req.TerminatedURL,
		QuotaFullURL:  req.QuotaFullURL,
	}
	if req.IsActive != nil {
		cfg.IsActive = *req.IsActive
	}

	// A definition that cannot admit anyone is rejected before it
	// touches the store.
	if err := quota.ValidateConfig(cfg, req.Buckets); err != nil {
		s.sendDomainError(w, err)
		return
	}

	existing, err := s.quotas.GetBySurveyID(surveyID)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	created := existing == nil

	if err := s.quotas.Upsert(cfg, req.Buckets); err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.logger.Info("quota definition saved",
		"survey_id", surveyID,
		"total_target", cfg.TotalTarget,
		"buckets", len(req.Buckets),
		"created", created,
	)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.sendQuotaSnapshot(w, status, surveyID)
}

// handleQuotaGet handles GET /api/v1/surveys/{surveyID}/quota
func (s *Server) handleQuotaGet(w http.ResponseWriter, r *http.Request) {
	s.sendQuotaSnapshot(w, http.StatusOK, chi.URLParam(r, "surveyID"))
}

// handleQuotaStatus handles GET /api/v1/surveys/{surveyID}/quota/status
func (s *Server) handleQuotaStatus(w http.ResponseWriter, r *http.Request) {
	surveyID := chi.URLParam(r, "surveyID")

	report, err := s.quotas.Status(surveyID)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, report)
}

// handleQuotaActivate handles POST /api/v1/surveys/{surveyID}/quota/activate
func (s *Server) handleQuotaActivate(w http.ResponseWriter, r *http.Request) {
	s.setQuotaActive(w, r, true)
}

// handleQuotaDeactivate handles POST /api/v1/surveys/{surveyID}/quota/deactivate
func (s *Server) handleQuotaDeactivate(w http.ResponseWriter, r *http.Request) {
	s.setQuotaActive(w, r, false)
}

func (s *Server) setQuotaActive(w http.ResponseWriter, r *http.Request, active bool) {
	surveyID := chi.URLParam(r, "surveyID")

	if err := s.quotas.SetActive(surveyID, active); err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.logger.Info("quota active flag changed", "survey_id", surveyID, "active", active)
	s.sendJSON(w, http.StatusOK, map[string]any{
		"survey_id": surveyID,
		"is_active": active,
	})
}

// VendorPayloadResponse is the response for GET /api/v1/surveys/{surveyID}/quota/vendor
type VendorPayloadResponse struct {
	Group  *vendor.Group        `json:"group"`
	Quotas []vendor.VendorQuota `json:"quotas"`
}

// handleQuotaVendorPayload handles GET /api/v1/surveys/{surveyID}/quota/vendor.
// It renders the stored definition in the panel vendor's job format so
// vendor-managed surveys can be pushed upstream.
func (s *Server) handleQuotaVendorPayload(w http.ResponseWriter, r *http.Request) {
	surveyID := chi.URLParam(r, "surveyID")

	cfg, err := s.quotas.GetBySurveyID(surveyID)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	if cfg == nil {
		s.sendError(w, http.StatusNotFound, "No quota for survey "+surveyID)
		return
	}
	if !cfg.VendorManaged {
		s.sendError(w, http.StatusBadRequest, "Survey is not vendor managed")
		return
	}

	buckets, err := s.quotas.GetBuckets(cfg.ID)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	liveURL := r.URL.Query().Get("live_url")
	group, err := vendor.BuildGroup(cfg, buckets, liveURL)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	quotas, err := vendor.BuildQuotas(cfg, buckets, r.URL.Query().Get("group_id"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.sendJSON(w, http.StatusOK, VendorPayloadResponse{Group: group, Quotas: quotas})
}

// handleQuotaDelete handles DELETE /api/v1/surveys/{surveyID}/quota
func (s *Server) handleQuotaDelete(w http.ResponseWriter, r *http.Request) {
	surveyID := chi.URLParam(r, "surveyID")

	if err := s.quotas.Delete(surveyID); err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.logger.Info("quota deleted", "survey_id", surveyID)
	w.WriteHeader(http.StatusNoContent)
}

// sendQuotaSnapshot responds with the stored definition and buckets for
// a survey.
func (s *Server) sendQuotaSnapshot(w http.ResponseWriter, status int, surveyID string) {
	cfg, err := s.quotas.GetBySurveyID(surveyID)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	if cfg == nil {
		s.sendError(w, http.StatusNotFound, "No quota for survey "+surveyID)
		return
	}

	buckets, err := s.quotas.GetBuckets(cfg.ID)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.sendJSON(w, status, QuotaResponse{Quota: cfg, Buckets: buckets})
}
