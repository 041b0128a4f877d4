package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldset/quotad/internal/config"
	"github.com/fieldset/quotad/internal/metrics"
	"github.com/fieldset/quotad/internal/models"
	"github.com/fieldset/quotad/internal/quota"
	"github.com/fieldset/quotad/internal/repository"
	"github.com/fieldset/quotad/internal/vendor"
)

// Engine drives the respondent lifecycle: admission, completion and
// termination. Counter accounting happens inside the repository
// transaction; vendor callbacks fire after commit and never affect the
// outcome.
type Engine struct {
	respondents *repository.RespondentRepository
	notifier    vendor.Notifier
	cfg         *config.Config
	logger      *slog.Logger

	notifyTimeout time.Duration
	wg            sync.WaitGroup
}

// New creates an engine. notifier may be nil to disable callbacks.
func New(respondents *repository.RespondentRepository, notifier vendor.Notifier, cfg *config.Config, logger *slog.Logger) *Engine {
	timeout := cfg.Vendor.RequestTimeout
	if cfg.Vendor.MaxRetries > 0 {
		// Leave room for every retry plus the waits between them.
		timeout = time.Duration(cfg.Vendor.MaxRetries)*cfg.Vendor.RequestTimeout +
			time.Duration(cfg.Vendor.MaxRetries)*cfg.Vendor.RetryInterval
	}
	return &Engine{
		respondents:   respondents,
		notifier:      notifier,
		cfg:           cfg,
		logger:        logger,
		notifyTimeout: timeout,
	}
}

// AdmissionResult is the outcome of one admission attempt.
type AdmissionResult struct {
	Respondent  *models.Respondent
	Verdict     *quota.Verdict
	RedirectURL string
}

// Admit screens a respondent against a survey's quota and records the
// verdict.
func (e *Engine) Admit(ctx context.Context, surveyID, vendorRespondentID string, answers []models.Answer) (*AdmissionResult, error) {
	resp, verdict, err := e.respondents.Admit(ctx, surveyID, vendorRespondentID, answers)
	if err != nil {
		return nil, err
	}

	metrics.IncAdmissions(surveyID, string(verdict.Status))

	e.logger.Info("respondent admitted",
		"survey_id", surveyID,
		"respondent_id", resp.ID,
		"status", verdict.Status,
		"reason", verdict.Reason,
	)

	redirect := e.redirectFor(resp)
	if resp.Status.Terminal() {
		e.notifyAsync(resp, redirect)
	}

	return &AdmissionResult{Respondent: resp, Verdict: verdict, RedirectURL: redirect}, nil
}

// Complete marks a qualified respondent as completed and fills quota
// slots. A full quota or bucket at completion time rejects the
// transition.
func (e *Engine) Complete(ctx context.Context, surveyID, respondentID, responseID string) (*models.Respondent, string, error) {
	resp, err := e.respondents.Complete(ctx, surveyID, respondentID, responseID)
	if err != nil {
		if errors.Is(err, quota.ErrConflict) {
			metrics.IncAdmissionConflicts()
			metrics.IncCompletions(surveyID, "rejected")
		}
		return nil, "", err
	}

	metrics.IncCompletions(surveyID, "accepted")

	e.logger.Info("respondent completed",
		"survey_id", surveyID,
		"respondent_id", resp.ID,
		"response_id", responseID,
	)

	redirect := e.redirectFor(resp)
	e.notifyAsync(resp, redirect)
	return resp, redirect, nil
}

// Terminate marks a qualified respondent as screened out.
func (e *Engine) Terminate(ctx context.Context, surveyID, respondentID string) (*models.Respondent, string, error) {
	resp, err := e.respondents.Terminate(ctx, surveyID, respondentID)
	if err != nil {
		return nil, "", err
	}

	metrics.IncTerminations()

	e.logger.Info("respondent terminated",
		"survey_id", surveyID,
		"respondent_id", resp.ID,
	)

	redirect := e.redirectFor(resp)
	e.notifyAsync(resp, redirect)
	return resp, redirect, nil
}

// Wait blocks until all in-flight vendor callbacks finish. Used during
// shutdown and in tests.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// redirectFor expands the per-status callback URL recorded on the
// respondent row.
func (e *Engine) redirectFor(resp *models.Respondent) string {
	return vendor.ProcessCallbackURL(resp.RedirectURLCalled, resp, resp.Status, time.Now())
}

// notifyAsync delivers the vendor callback outside the request path.
// Failures are logged and dropped; the respondent's status is already
// committed.
func (e *Engine) notifyAsync(resp *models.Respondent, url string) {
	if e.notifier == nil || !e.cfg.Vendor.Enabled || url == "" {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), e.notifyTimeout)
		defer cancel()

		if err := e.notifier.Notify(ctx, url); err != nil {
			e.logger.Warn("vendor callback failed",
				"respondent_id", resp.ID,
				"url", url,
				"error", err,
			)
			metrics.IncVendorCallbacks("failed")
			return
		}

		metrics.IncVendorCallbacks("delivered")
		if err := e.respondents.MarkRedirectCalled(resp.ID, url); err != nil {
			e.logger.Warn("failed to record vendor callback",
				"respondent_id", resp.ID,
				"error", err,
			)
		}
	}()
}
