package safety

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	extrepo "github.com/foxseedlab/sanctuary/external/repository"
	"github.com/foxseedlab/sanctuary/internal/apperr"
	"github.com/foxseedlab/sanctuary/internal/classifier"
	"github.com/foxseedlab/sanctuary/internal/clock"
	"github.com/foxseedlab/sanctuary/internal/config"
	"github.com/foxseedlab/sanctuary/internal/fanout"
	"github.com/foxseedlab/sanctuary/internal/notify"
	"github.com/foxseedlab/sanctuary/internal/repository"
	"github.com/foxseedlab/sanctuary/internal/session"
)

type fakeTx struct {
	s *fakeSessions
}

func (t *fakeTx) Session() repository.Session { return t.s.session }

func (t *fakeTx) RoleOf(participantID string) repository.Role {
	return t.s.roles[participantID]
}

func (t *fakeTx) IsPresent(participantID string) bool {
	_, ok := t.s.roles[participantID]
	return ok
}

func (t *fakeTx) SetMonitoringDegraded(degraded bool, _ string) bool {
	if t.s.session.MonitoringDegraded == degraded {
		return false
	}
	t.s.session.MonitoringDegraded = degraded
	t.s.healthChanges++
	return true
}

type fakeSessions struct {
	mu            sync.Mutex
	session       repository.Session
	roles         map[string]repository.Role
	healthChanges int
}

func (f *fakeSessions) Within(_ context.Context, sessionID string, fn func(tx session.Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sessionID != f.session.ID {
		return session.ErrSessionNotFound
	}
	return fn(&fakeTx{s: f})
}

type mockClassifier struct {
	mu     sync.Mutex
	calls  int
	result classifier.Result
	err    error
}

func (m *mockClassifier) Classify(_ context.Context, _, _ string, _ classifier.Sample) (classifier.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.result, m.err
}

type mockNotifier struct {
	mu      sync.Mutex
	notices []notify.EmergencyNotice
}

func (m *mockNotifier) Notify(_ context.Context, n notify.EmergencyNotice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, n)
	return nil
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notices)
}

type testEnv struct {
	pipeline   *Pipeline
	sessions   *fakeSessions
	classifier *mockClassifier
	notifier   *mockNotifier
	repo       *extrepo.MemoryRepository
	hub        *fanout.Hub
	cfg        *config.Config
}

func newTestEnv(t *testing.T, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()
	cfg := &config.Config{
		DefaultTranscribeLanguage: "en-US",
		SafetyAutoEscalation:      true,
		SafetyFailClosed:          true,
		ClassifierTimeoutMS:       500,
		ClassifierMaxAttempts:     3,
		ReportRatePerMin:          10,
	}
	if mutate != nil {
		mutate(cfg)
	}
	env := &testEnv{
		sessions: &fakeSessions{
			session: repository.Session{ID: "session-1", HostID: "host", Status: repository.SessionStatusActive},
			roles: map[string]repository.Role{
				"host": repository.RoleHost,
				"mod":  repository.RoleModerator,
				"p1":   repository.RoleMember,
				"p2":   repository.RoleMember,
			},
		},
		classifier: &mockClassifier{},
		notifier:   &mockNotifier{},
		repo:       extrepo.NewMemoryRepository(),
		hub:        fanout.NewHub("test"),
		cfg:        cfg,
	}
	env.pipeline = NewPipeline(cfg, env.sessions, env.classifier, env.notifier, env.repo, env.hub,
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
		WithClock(clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))),
	)
	return env
}

func (e *testEnv) raise(t *testing.T, severity repository.Severity) repository.Alert {
	t.Helper()
	a, err := e.pipeline.IngestSignal(context.Background(), "session-1", "p1", classifier.Result{
		IsFlagged:  true,
		Severity:   severity,
		Confidence: 0.7,
		Triggers:   []string{"harassment"},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return *a
}

func (e *testEnv) subscribe(t *testing.T, sessionID, name string) *fanout.Subscription {
	t.Helper()
	sub, err := e.hub.Subscribe(sessionID, name)
	if err != nil {
		t.Fatalf("subscribe %s: %v", sessionID, err)
	}
	return sub
}

func TestIngestSignal_CriticalIsEscalatedWithOneNotification(t *testing.T) {
	env := newTestEnv(t, nil)
	sub := env.subscribe(t, "session-1", "moderator")
	defer sub.Close()

	alert, err := env.pipeline.IngestSignal(context.Background(), "session-1", "p1", classifier.Result{
		IsFlagged:  true,
		Severity:   repository.SeverityCritical,
		Confidence: 0.95,
		Triggers:   []string{"crisis:self_harm"},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if alert.Status != repository.AlertStatusEscalated {
		t.Fatalf("expected escalated, got %s", alert.Status)
	}
	if alert.Category != repository.AlertCategoryCrisis {
		t.Fatalf("expected crisis category, got %s", alert.Category)
	}
	if env.notifier.count() != 1 {
		t.Fatalf("expected exactly one notification, got %d", env.notifier.count())
	}
	if got := env.notifier.notices[0]; got.AlertID != alert.ID || got.Severity != repository.SeverityCritical {
		t.Fatalf("unexpected notice: %+v", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Type != fanout.EventAlertCreated || ev.Lane != fanout.LanePriority {
		t.Fatalf("unexpected event: %s on %v", ev.Type, ev.Lane)
	}
	var payload AlertPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Alert.Status != repository.AlertStatusEscalated {
		t.Fatalf("subscribers must never see the alert as active, got %s", payload.Alert.Status)
	}

	stored, err := env.repo.GetAlert(context.Background(), alert.ID)
	if err != nil {
		t.Fatalf("get alert: %v", err)
	}
	if stored.EmergencyNotifiedAt == nil {
		t.Fatal("expected notification to be recorded on the alert")
	}

	if _, err := env.pipeline.Act(context.Background(), alert.ID, "host", ActionEscalate, ""); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if env.notifier.count() != 1 {
		t.Fatalf("escalating again must not notify, got %d", env.notifier.count())
	}
}

func TestIngestSignal_WithoutAutoEscalationStaysActive(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.SafetyAutoEscalation = false })
	alert := env.raise(t, repository.SeverityCritical)
	if alert.Status != repository.AlertStatusActive {
		t.Fatalf("expected active, got %s", alert.Status)
	}
	if env.notifier.count() != 0 {
		t.Fatalf("expected no notification, got %d", env.notifier.count())
	}
}

func TestIngestSignal_IgnoresUnflaggedAndRejectsMalformed(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	alert, err := env.pipeline.IngestSignal(ctx, "session-1", "p1", classifier.Result{Confidence: 0.1})
	if err != nil || alert != nil {
		t.Fatalf("expected no alert, got %+v, %v", alert, err)
	}
	_, err = env.pipeline.IngestSignal(ctx, "session-1", "p1", classifier.Result{IsFlagged: true, Severity: "huge", Confidence: 0.5})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = env.pipeline.IngestSignal(ctx, "session-1", "p1", classifier.Result{IsFlagged: true, Severity: repository.SeverityLow, Confidence: 1.5})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = env.pipeline.IngestSignal(ctx, "missing", "p1", classifier.Result{IsFlagged: true, Severity: repository.SeverityLow})
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestAct_FollowsStatusGraph(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	alert := env.raise(t, repository.SeverityLow)

	if _, err := env.pipeline.Act(ctx, alert.ID, "p2", ActionAcknowledge, ""); !errors.Is(err, session.ErrNotPrivileged) {
		t.Fatalf("expected ErrNotPrivileged, got %v", err)
	}
	got, err := env.pipeline.Act(ctx, alert.ID, "mod", ActionAcknowledge, "looking")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if got.Status != repository.AlertStatusAcknowledged {
		t.Fatalf("expected acknowledged, got %s", got.Status)
	}
	if _, err := env.pipeline.Act(ctx, alert.ID, "mod", ActionAcknowledge, ""); !errors.Is(err, ErrTransition) {
		t.Fatalf("expected ErrTransition, got %v", err)
	}
	got, err = env.pipeline.Act(ctx, alert.ID, "host", ActionEscalate, "")
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if got.Status != repository.AlertStatusEscalated || got.Severity != repository.SeverityMedium {
		t.Fatalf("unexpected alert after escalate: %s/%s", got.Status, got.Severity)
	}
	if env.notifier.count() != 1 {
		t.Fatalf("expected one notification on escalation, got %d", env.notifier.count())
	}
	got, err = env.pipeline.Act(ctx, alert.ID, "host", ActionResolve, "handled")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Status != repository.AlertStatusResolved {
		t.Fatalf("expected resolved, got %s", got.Status)
	}
	for _, action := range []Action{ActionAcknowledge, ActionEscalate, ActionResolve} {
		if _, err := env.pipeline.Act(ctx, alert.ID, "host", action, ""); !errors.Is(err, ErrResolved) {
			t.Fatalf("%s on resolved alert: expected ErrResolved, got %v", action, err)
		}
	}

	actions := make([]string, 0, len(got.Actions))
	for _, a := range got.Actions {
		actions = append(actions, a.Action)
	}
	if !slices.Equal(actions, []string{"create", "acknowledge", "escalate", "resolve"}) {
		t.Fatalf("unexpected action log: %v", actions)
	}
}

func TestAct_ResolveRequiresReviewForHighSeverity(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	alert := env.raise(t, repository.SeverityHigh)

	if _, err := env.pipeline.Act(ctx, alert.ID, "host", ActionResolve, ""); !errors.Is(err, apperr.ErrPolicyViolation) {
		t.Fatalf("expected policy violation, got %v", err)
	}
	if _, err := env.pipeline.Act(ctx, alert.ID, "host", ActionAcknowledge, ""); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if _, err := env.pipeline.Act(ctx, alert.ID, "host", ActionResolve, ""); err != nil {
		t.Fatalf("resolve after acknowledge: %v", err)
	}
}

func TestAct_EscalateAtCriticalIsNoop(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	alert := env.raise(t, repository.SeverityCritical)

	got, err := env.pipeline.Act(ctx, alert.ID, "host", ActionEscalate, "")
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if len(got.Actions) != len(alert.Actions) {
		t.Fatalf("expected unchanged action log, got %d entries", len(got.Actions))
	}
	if _, err := env.pipeline.Act(ctx, alert.ID, "host", "dismiss", ""); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
	if _, err := env.pipeline.Act(ctx, "missing", "host", ActionResolve, ""); !errors.Is(err, ErrAlertNotFound) {
		t.Fatalf("expected ErrAlertNotFound, got %v", err)
	}
}

func TestReportContent_ClassifierOutageDegradesMonitoring(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.classifier.err = errors.New("upstream timeout")

	alert, err := env.pipeline.ReportContent(ctx, "session-1", "p2", "p1", classifier.Sample{Text: "something worrying"})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if env.classifier.calls != 3 {
		t.Fatalf("expected 3 classifier attempts, got %d", env.classifier.calls)
	}
	if alert.Category != repository.AlertCategoryReport || alert.Severity != repository.SeverityMedium {
		t.Fatalf("unexpected alert: %s/%s", alert.Category, alert.Severity)
	}
	if !slices.Contains(alert.Triggers, triggerClassifierUnavailable) || alert.ReporterID != "p2" {
		t.Fatalf("unexpected alert: %+v", alert)
	}
	if !env.sessions.session.MonitoringDegraded {
		t.Fatal("expected monitoring degraded")
	}

	env.classifier.err = nil
	env.classifier.result = classifier.Result{Confidence: 0.2}
	alert, err = env.pipeline.ReportContent(ctx, "session-1", "p2", "p1", classifier.Sample{Text: "again"})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if alert.Severity != repository.SeverityLow {
		t.Fatalf("unflagged report should be low, got %s", alert.Severity)
	}
	if env.sessions.session.MonitoringDegraded {
		t.Fatal("expected monitoring to recover")
	}
}

func TestReportContent_FailOpenUsesLowSeverity(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.SafetyFailClosed = false })
	env.classifier.err = errors.New("down")

	alert, err := env.pipeline.ReportContent(context.Background(), "session-1", "p2", "p1", classifier.Sample{Text: "hm"})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if alert.Severity != repository.SeverityLow {
		t.Fatalf("expected low, got %s", alert.Severity)
	}
	if !env.sessions.session.MonitoringDegraded {
		t.Fatal("outage must still be visible")
	}
}

func TestReportContent_Rejections(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.ReportRatePerMin = 2 })
	ctx := context.Background()
	sample := classifier.Sample{Text: "spam"}

	if _, err := env.pipeline.ReportContent(ctx, "session-1", "p2", "p1", classifier.Sample{Text: "  "}); !errors.Is(err, ErrEmptySample) {
		t.Fatalf("expected ErrEmptySample, got %v", err)
	}
	if _, err := env.pipeline.ReportContent(ctx, "session-1", "stranger", "p1", sample); !errors.Is(err, session.ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	for i := range 2 {
		if _, err := env.pipeline.ReportContent(ctx, "session-1", "p2", "p1", sample); err != nil {
			t.Fatalf("report %d: %v", i, err)
		}
	}
	if _, err := env.pipeline.ReportContent(ctx, "session-1", "p2", "p1", sample); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if _, err := env.pipeline.ReportContent(ctx, "session-1", "host", "p1", sample); err != nil {
		t.Fatalf("other reporters keep their own budget: %v", err)
	}
}

func TestAnalyzeSample_FailClosedRaisesSystemAlert(t *testing.T) {
	env := newTestEnv(t, nil)
	env.classifier.err = errors.New("down")

	alert, err := env.pipeline.AnalyzeSample(context.Background(), "session-1", "p1", classifier.Sample{Text: "hello"})
	if !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if alert == nil || alert.Category != repository.AlertCategorySystem {
		t.Fatalf("expected system alert, got %+v", alert)
	}
	if env.sessions.healthChanges != 1 {
		t.Fatalf("expected one health change, got %d", env.sessions.healthChanges)
	}
}

func TestAnalyzeSample_FailOpenRaisesNothing(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.SafetyFailClosed = false })
	env.classifier.err = errors.New("down")

	alert, err := env.pipeline.AnalyzeSample(context.Background(), "session-1", "p1", classifier.Sample{Text: "hello"})
	if !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if alert != nil {
		t.Fatalf("expected no alert, got %+v", alert)
	}
	alerts, err := env.pipeline.ListAlerts(context.Background(), "session-1", "host")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %d", len(alerts))
	}
}

func TestListAlerts_RequiresPrivilege(t *testing.T) {
	env := newTestEnv(t, nil)
	alert := env.raise(t, repository.SeverityMedium)

	if _, err := env.pipeline.ListAlerts(context.Background(), "session-1", "p1"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	got, err := env.pipeline.GetAlert(context.Background(), alert.ID, "mod")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != alert.ID {
		t.Fatalf("unexpected alert %s", got.ID)
	}
}

func TestAct_TruncatesNoteOnRuneBoundary(t *testing.T) {
	env := newTestEnv(t, nil)
	alert := env.raise(t, repository.SeverityLow)

	note := strings.Repeat("é", maxNoteLength+10)
	got, err := env.pipeline.Act(context.Background(), alert.ID, "host", ActionAcknowledge, note)
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	last := got.Actions[len(got.Actions)-1].Note
	if !utf8.ValidString(last) || utf8.RuneCountInString(last) != maxNoteLength {
		t.Fatalf("expected %d valid runes, got %d (valid=%v)", maxNoteLength, utf8.RuneCountInString(last), utf8.ValidString(last))
	}
}

type failingNotifier struct {
	mu        sync.Mutex
	calls     int
	forgotten []string
}

func (f *failingNotifier) Notify(context.Context, notify.EmergencyNotice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("webhook unavailable")
}

func (f *failingNotifier) Forget(alertID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, alertID)
}

func TestSendNotice_ForgetsAlertAfterRetriesExhausted(t *testing.T) {
	env := newTestEnv(t, nil)
	failing := &failingNotifier{}
	pipeline := NewPipeline(env.cfg, env.sessions, env.classifier, failing, env.repo, env.hub,
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	)

	alert, err := pipeline.IngestSignal(context.Background(), "session-1", "p1", classifier.Result{
		IsFlagged:  true,
		Severity:   repository.SeverityCritical,
		Confidence: 0.95,
		Triggers:   []string{"crisis:self_harm"},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if failing.calls != maxNotifyAttempts {
		t.Fatalf("expected %d attempts, got %d", maxNotifyAttempts, failing.calls)
	}
	if !slices.Equal(failing.forgotten, []string{alert.ID}) {
		t.Fatalf("expected alert %s forgotten, got %v", alert.ID, failing.forgotten)
	}
}
