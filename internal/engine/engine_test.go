package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fieldset/quotad/internal/config"
	"github.com/fieldset/quotad/internal/db"
	"github.com/fieldset/quotad/internal/models"
	"github.com/fieldset/quotad/internal/quota"
	"github.com/fieldset/quotad/internal/repository"
)

type stubNotifier struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (s *stubNotifier) Notify(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls = append(s.urls, url)
	return s.err
}

func (s *stubNotifier) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.urls...)
}

func setupEngine(t *testing.T, notifier *stubNotifier) (*Engine, *repository.QuotaRepository, *repository.RespondentRepository) {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	qr := repository.NewQuotaRepository(database.DB)
	rr := repository.NewRespondentRepository(database.DB)

	cfg := config.Default()
	cfg.Vendor.Enabled = true

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(rr, notifier, cfg, logger)
	return e, qr, rr
}

func seedQuota(t *testing.T, qr *repository.QuotaRepository, surveyID string, totalTarget int) *models.QuotaConfig {
	t.Helper()
	cfg := &models.QuotaConfig{
		SurveyID:      surveyID,
		TotalTarget:   totalTarget,
		IsActive:      true,
		CompletedURL:  "https://vendor.test/done?rid={respondent_id}&status={status}",
		TerminatedURL: "https://vendor.test/term?rid={respondent_id}",
	}
	if err := qr.Upsert(cfg, nil); err != nil {
		t.Fatalf("failed to create quota: %v", err)
	}
	return cfg
}

func ageAnswer(age string) []models.Answer {
	return []models.Answer{{DimensionKey: "AGE", Value: models.Number(age)}}
}

func TestAdmitQualifiedNoCallback(t *testing.T) {
	notifier := &stubNotifier{}
	e, qr, _ := setupEngine(t, notifier)
	seedQuota(t, qr, "s1", 10)

	res, err := e.Admit(context.Background(), "s1", "v-1", ageAnswer("30"))
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if res.Verdict.Status != models.StatusQualified {
		t.Fatalf("expected QUALIFIED, got %s", res.Verdict.Status)
	}

	// Qualification is provisional; the vendor hears about terminal
	// statuses only.
	e.Wait()
	if calls := notifier.calls(); len(calls) != 0 {
		t.Errorf("expected no callbacks, got %v", calls)
	}
}

func TestAdmitInactiveNotifiesTermination(t *testing.T) {
	notifier := &stubNotifier{}
	e, qr, _ := setupEngine(t, notifier)
	seedQuota(t, qr, "s1", 10)
	if err := qr.SetActive("s1", false); err != nil {
		t.Fatalf("failed to deactivate quota: %v", err)
	}

	res, err := e.Admit(context.Background(), "s1", "v-1", ageAnswer("30"))
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if res.Verdict.Status != models.StatusTerminated {
		t.Fatalf("expected TERMINATED, got %s", res.Verdict.Status)
	}
	if !strings.Contains(res.RedirectURL, "rid=v-1") {
		t.Errorf("redirect URL missing vendor respondent id: %s", res.RedirectURL)
	}

	e.Wait()
	calls := notifier.calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 callback, got %d", len(calls))
	}
	if calls[0] != res.RedirectURL {
		t.Errorf("callback URL %s, want %s", calls[0], res.RedirectURL)
	}
}

func TestCompleteNotifiesAndRecordsCallback(t *testing.T) {
	notifier := &stubNotifier{}
	e, qr, rr := setupEngine(t, notifier)
	seedQuota(t, qr, "s1", 10)

	res, err := e.Admit(context.Background(), "s1", "v-1", ageAnswer("30"))
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}

	resp, redirect, err := e.Complete(context.Background(), "s1", res.Respondent.ID, "resp-42")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Status != models.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", resp.Status)
	}
	if !strings.Contains(redirect, "status=COMPLETED") {
		t.Errorf("redirect URL missing status: %s", redirect)
	}

	e.Wait()
	if calls := notifier.calls(); len(calls) != 1 || calls[0] != redirect {
		t.Fatalf("expected callback to %s, got %v", redirect, notifier.calls())
	}

	// Successful delivery is recorded on the respondent row.
	got, err := rr.GetByID(res.Respondent.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.RedirectCalledAt == nil {
		t.Error("expected redirect_called_at to be set")
	}
	if got.RedirectURLCalled != redirect {
		t.Errorf("recorded URL %s, want %s", got.RedirectURLCalled, redirect)
	}
}

func TestCompleteConflictPropagates(t *testing.T) {
	notifier := &stubNotifier{}
	e, qr, _ := setupEngine(t, notifier)
	seedQuota(t, qr, "s1", 10)

	res, err := e.Admit(context.Background(), "s1", "v-1", ageAnswer("30"))
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}

	if _, _, err := e.Complete(context.Background(), "s1", res.Respondent.ID, "r1"); err != nil {
		t.Fatalf("first Complete failed: %v", err)
	}
	_, _, err = e.Complete(context.Background(), "s1", res.Respondent.ID, "r2")
	if !errors.Is(err, quota.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	e.Wait()
	if calls := notifier.calls(); len(calls) != 1 {
		t.Errorf("expected 1 callback for the single completion, got %d", len(calls))
	}
}

func TestTerminateNotifies(t *testing.T) {
	notifier := &stubNotifier{}
	e, qr, _ := setupEngine(t, notifier)
	seedQuota(t, qr, "s1", 10)

	res, err := e.Admit(context.Background(), "s1", "v-1", ageAnswer("30"))
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}

	resp, redirect, err := e.Terminate(context.Background(), "s1", res.Respondent.ID)
	if err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if resp.Status != models.StatusTerminated {
		t.Fatalf("expected TERMINATED, got %s", resp.Status)
	}

	e.Wait()
	if calls := notifier.calls(); len(calls) != 1 || calls[0] != redirect {
		t.Fatalf("expected callback to %s, got %v", redirect, notifier.calls())
	}
}

func TestNotifierFailureDoesNotRecordCallback(t *testing.T) {
	notifier := &stubNotifier{err: errors.New("vendor down")}
	e, qr, rr := setupEngine(t, notifier)
	seedQuota(t, qr, "s1", 10)

	res, err := e.Admit(context.Background(), "s1", "v-1", ageAnswer("30"))
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}

	if _, _, err := e.Complete(context.Background(), "s1", res.Respondent.ID, "r1"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	e.Wait()

	got, err := rr.GetByID(res.Respondent.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.RedirectCalledAt != nil {
		t.Error("failed delivery must not set redirect_called_at")
	}
	// The transition itself still stands.
	if got.Status != models.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", got.Status)
	}
}

func TestVendorDisabledSkipsCallbacks(t *testing.T) {
	notifier := &stubNotifier{}
	e, qr, _ := setupEngine(t, notifier)
	e.cfg.Vendor.Enabled = false
	seedQuota(t, qr, "s1", 10)

	res, err := e.Admit(context.Background(), "s1", "v-1", ageAnswer("30"))
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if _, _, err := e.Complete(context.Background(), "s1", res.Respondent.ID, "r1"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	e.Wait()
	if calls := notifier.calls(); len(calls) != 0 {
		t.Errorf("expected no callbacks with vendor disabled, got %v", calls)
	}
}
