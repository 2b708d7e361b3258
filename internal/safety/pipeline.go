// Package safety turns classifier signals and participant reports into
// alerts that moderators can acknowledge, escalate and resolve.
package safety

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/foxseedlab/sanctuary/internal/apperr"
	"github.com/foxseedlab/sanctuary/internal/audit"
	"github.com/foxseedlab/sanctuary/internal/classifier"
	"github.com/foxseedlab/sanctuary/internal/clock"
	"github.com/foxseedlab/sanctuary/internal/config"
	"github.com/foxseedlab/sanctuary/internal/fanout"
	"github.com/foxseedlab/sanctuary/internal/notify"
	"github.com/foxseedlab/sanctuary/internal/repository"
	"github.com/foxseedlab/sanctuary/internal/session"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	systemActor = "system"

	triggerUserReport            = "user_report"
	triggerClassifierUnavailable = "classifier_unavailable"
	crisisTriggerPrefix          = "crisis:"

	maxNotifyAttempts = 3
)

var (
	ErrAlertNotFound = apperr.New(apperr.KindNotFound, "alert not found")
	ErrRateLimited   = apperr.New(apperr.KindRateLimited, "too many reports, try again shortly")
	ErrEmptySample   = apperr.New(apperr.KindValidation, "report content is empty")
	ErrUnknownAction = apperr.New(apperr.KindValidation, "unknown alert action")
	ErrResolved      = apperr.New(apperr.KindConflict, "alert is already resolved")
	ErrTransition    = apperr.New(apperr.KindConflict, "alert transition not permitted")
	ErrNeedsReview   = apperr.New(apperr.KindPolicyViolation, "alert requires acknowledgement or escalation before it can be resolved")
	ErrNoClassifier  = apperr.New(apperr.KindUnavailable, "no content classifier configured")
)

// Sessions runs a function inside the critical section of a session.
type Sessions interface {
	Within(ctx context.Context, sessionID string, fn func(tx session.Tx) error) error
}

type Publisher interface {
	Publish(sessionID string, typ fanout.EventType, lane fanout.Lane, payload any) (fanout.Event, error)
}

type Store interface {
	repository.AlertRepository
	repository.AuditRepository
}

type AlertPayload struct {
	Alert  repository.Alert `json:"alert"`
	Action string           `json:"action,omitempty"`
}

type Pipeline struct {
	cfg        *config.Config
	sessions   Sessions
	classifier classifier.Classifier
	notifier   notify.Notifier
	store      Store
	hub        Publisher
	clock      clock.Clock
	audit      *audit.Recorder
	metrics    *Metrics
	newBackOff func() backoff.BackOff

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

type Option func(*Pipeline)

// WithBackOff replaces the retry policy used for classifier and notifier calls.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(p *Pipeline) {
		p.newBackOff = f
	}
}

func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) {
		p.clock = c
	}
}

func NewPipeline(cfg *config.Config, sessions Sessions, cls classifier.Classifier, notifier notify.Notifier, store Store, hub Publisher, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		sessions:   sessions,
		classifier: cls,
		notifier:   notifier,
		store:      store,
		hub:        hub,
		clock:      clock.Real{},
		metrics:    NewMetrics(),
		newBackOff: defaultBackOff,
		limiters:   make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.audit = audit.NewRecorder(store, p.clock.Now)
	return p
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

// IngestSignal raises an alert for a flagged classifier result. Results that
// are not flagged produce no alert and a nil pointer.
func (p *Pipeline) IngestSignal(ctx context.Context, sessionID, participantID string, res classifier.Result) (*repository.Alert, error) {
	if err := validateResult(res); err != nil {
		p.audit.Record(ctx, sessionID, systemActor, "ingest_signal", participantID, err)
		return nil, err
	}
	if !res.IsFlagged {
		return nil, nil
	}
	alert, err := p.raise(ctx, sessionID, alertInput{
		category:  categoryOf(res.Triggers, repository.AlertCategoryContent),
		subjectID: participantID,
		result:    res,
	}, nil)
	p.audit.Record(ctx, sessionID, systemActor, "ingest_signal", participantID, err)
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// AnalyzeSample runs a server-side sample through the classifier. A classifier
// outage degrades the session's monitoring and, when failing closed, raises a
// system alert so that moderators review the participant by hand.
func (p *Pipeline) AnalyzeSample(ctx context.Context, sessionID, participantID string, sample classifier.Sample) (*repository.Alert, error) {
	if sample.Empty() {
		return nil, nil
	}
	res, cerr := p.classify(ctx, sessionID, participantID, sample)
	if cerr == nil {
		p.setDegraded(ctx, sessionID, false, "")
		return p.IngestSignal(ctx, sessionID, participantID, res)
	}
	if errors.Is(cerr, apperr.ErrValidation) {
		return nil, cerr
	}

	var (
		alert  *repository.Alert
		notice *notify.EmergencyNotice
	)
	in := alertInput{
		category:  repository.AlertCategorySystem,
		subjectID: participantID,
		result: classifier.Result{
			IsFlagged: true,
			Severity:  repository.SeverityMedium,
			Triggers:  []string{triggerClassifierUnavailable},
		},
	}
	err := p.sessions.Within(ctx, sessionID, func(tx session.Tx) error {
		tx.SetMonitoringDegraded(true, triggerClassifierUnavailable)
		if !p.cfg.SafetyFailClosed {
			return nil
		}
		a, n, err := p.createLocked(ctx, tx, in)
		if err != nil {
			return err
		}
		alert, notice = &a, n
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.afterCreate(ctx, notice)
	return alert, apperr.Wrap(apperr.KindUnavailable, "classify sample", cerr)
}

// ReportContent files a participant report about another participant. The
// report always becomes an alert; the classifier only decides how severe it
// is. When the classifier is unavailable the alert is raised as medium under
// fail-closed, low otherwise, and the session is marked as degraded.
func (p *Pipeline) ReportContent(ctx context.Context, sessionID, reporterID, subjectID string, sample classifier.Sample) (repository.Alert, error) {
	alert, err := p.reportContent(ctx, sessionID, reporterID, subjectID, sample)
	p.audit.Record(ctx, sessionID, reporterID, "report_content", subjectID, err)
	return alert, err
}

func (p *Pipeline) reportContent(ctx context.Context, sessionID, reporterID, subjectID string, sample classifier.Sample) (repository.Alert, error) {
	if strings.TrimSpace(sample.Text) == "" && len(sample.Audio) == 0 {
		return repository.Alert{}, ErrEmptySample
	}
	if subjectID == "" {
		return repository.Alert{}, apperr.New(apperr.KindValidation, "reported participant is required")
	}
	if !p.allowReport(sessionID, reporterID) {
		p.metrics.RecordRateLimited()
		return repository.Alert{}, ErrRateLimited
	}
	err := p.sessions.Within(ctx, sessionID, func(tx session.Tx) error {
		if tx.Session().Status == repository.SessionStatusEnded {
			return session.ErrSessionEnded
		}
		if !tx.IsPresent(reporterID) {
			return session.ErrNotParticipant
		}
		return nil
	})
	if err != nil {
		return repository.Alert{}, err
	}

	res, cerr := p.classify(ctx, sessionID, subjectID, sample)
	if cerr != nil && errors.Is(cerr, apperr.ErrValidation) {
		return repository.Alert{}, cerr
	}
	degraded := cerr != nil
	if degraded {
		severity := repository.SeverityLow
		if p.cfg.SafetyFailClosed {
			severity = repository.SeverityMedium
		}
		res = classifier.Result{IsFlagged: true, Severity: severity, Triggers: []string{triggerClassifierUnavailable}}
	}
	if !res.IsFlagged {
		res.Severity = repository.SeverityLow
	}
	res.Triggers = append(slices.Clone(res.Triggers), triggerUserReport)

	return p.raise(ctx, sessionID, alertInput{
		category:   categoryOf(res.Triggers, repository.AlertCategoryReport),
		subjectID:  subjectID,
		reporterID: reporterID,
		result:     res,
	}, &degraded)
}

type alertInput struct {
	category   repository.AlertCategory
	subjectID  string
	reporterID string
	result     classifier.Result
}

// raise creates the alert inside the session's critical section. When
// degraded is set, the monitoring health of the session is updated in the
// same critical section.
func (p *Pipeline) raise(ctx context.Context, sessionID string, in alertInput, degraded *bool) (repository.Alert, error) {
	var (
		alert  repository.Alert
		notice *notify.EmergencyNotice
	)
	err := p.sessions.Within(ctx, sessionID, func(tx session.Tx) error {
		if degraded != nil {
			reason := ""
			if *degraded {
				reason = triggerClassifierUnavailable
			}
			tx.SetMonitoringDegraded(*degraded, reason)
		}
		var err error
		alert, notice, err = p.createLocked(ctx, tx, in)
		return err
	})
	if err != nil {
		return repository.Alert{}, err
	}
	p.afterCreate(ctx, notice)
	return alert, nil
}

// createLocked stores and publishes a new alert. A critical alert under
// auto-escalation is created directly as escalated, so no subscriber ever
// observes it as active.
func (p *Pipeline) createLocked(ctx context.Context, tx session.Tx, in alertInput) (repository.Alert, *notify.EmergencyNotice, error) {
	s := tx.Session()
	if s.Status == repository.SessionStatusEnded {
		return repository.Alert{}, nil, session.ErrSessionEnded
	}
	now := p.clock.Now()
	alert := repository.Alert{
		ID:             uuid.NewString(),
		SessionID:      s.ID,
		Category:       in.category,
		Severity:       in.result.Severity,
		SubjectID:      in.subjectID,
		ReporterID:     in.reporterID,
		Confidence:     in.result.Confidence,
		Triggers:       slices.Clone(in.result.Triggers),
		Status:         repository.AlertStatusActive,
		ActionRequired: in.result.Severity.AtLeast(repository.SeverityHigh),
		Actions:        []repository.AlertAction{{Actor: systemActor, Action: "create", At: now}},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var notice *notify.EmergencyNotice
	if alert.Severity == repository.SeverityCritical && p.cfg.SafetyAutoEscalation {
		alert.Status = repository.AlertStatusEscalated
		alert.Actions = append(alert.Actions, repository.AlertAction{Actor: systemActor, Action: string(ActionEscalate), Note: "auto-escalated", At: now})
		notice = p.reserveNotice(&alert, now)
	}

	if err := p.store.SaveAlert(context.WithoutCancel(ctx), alert); err != nil {
		return repository.Alert{}, nil, apperr.Wrap(apperr.KindUnavailable, "store alert", err)
	}
	p.publish(s.ID, fanout.EventAlertCreated, AlertPayload{Alert: alert, Action: "create"})
	p.metrics.RecordAlert(alert)
	slog.Warn("safety alert raised",
		"alert_id", alert.ID,
		"session_id", alert.SessionID,
		"participant_id", alert.SubjectID,
		"category", alert.Category,
		"severity", alert.Severity,
		"status", alert.Status,
		"confidence", alert.Confidence,
	)
	return alert, notice, nil
}

// reserveNotice marks the alert as notified. It returns nil when a notice
// was already sent for the alert.
func (p *Pipeline) reserveNotice(alert *repository.Alert, now time.Time) *notify.EmergencyNotice {
	if alert.EmergencyNotifiedAt != nil {
		return nil
	}
	alert.EmergencyNotifiedAt = &now
	return &notify.EmergencyNotice{
		AlertID:       alert.ID,
		SessionID:     alert.SessionID,
		ParticipantID: alert.SubjectID,
		Category:      string(alert.Category),
		Severity:      alert.Severity,
		Triggers:      slices.Clone(alert.Triggers),
		EscalatedAt:   now,
	}
}

func (p *Pipeline) afterCreate(ctx context.Context, notice *notify.EmergencyNotice) {
	if notice != nil {
		p.sendNotice(ctx, *notice)
	}
}

// sendNotice delivers the emergency notice outside the session lock. Retries
// reuse the alert ID as idempotency key.
func (p *Pipeline) sendNotice(ctx context.Context, notice notify.EmergencyNotice) {
	if p.notifier == nil {
		slog.Error("no emergency notifier configured", "alert_id", notice.AlertID, "session_id", notice.SessionID)
		p.metrics.RecordNotification(false)
		return
	}
	ctx = context.WithoutCancel(ctx)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, p.notifier.Notify(ctx, notice)
	}, backoff.WithBackOff(p.newBackOff()), backoff.WithMaxTries(maxNotifyAttempts))
	p.metrics.RecordNotification(err == nil)
	if err != nil {
		if f, ok := p.notifier.(notify.Forgetter); ok {
			f.Forget(notice.AlertID)
		}
		slog.Error("failed to send emergency notification", "alert_id", notice.AlertID, "session_id", notice.SessionID, "severity", notice.Severity, "error", err)
		return
	}
	slog.Info("emergency notification sent", "alert_id", notice.AlertID, "session_id", notice.SessionID, "severity", notice.Severity)
}

// classify calls the classifier with a bounded time budget per attempt and
// retries unavailable errors. Malformed results are not retried.
func (p *Pipeline) classify(ctx context.Context, sessionID, participantID string, sample classifier.Sample) (classifier.Result, error) {
	if p.classifier == nil {
		return classifier.Result{}, ErrNoClassifier
	}
	if sample.Language == "" {
		sample.Language = p.cfg.DefaultTranscribeLanguage
	}
	attempts := p.cfg.ClassifierMaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	op := func() (classifier.Result, error) {
		cctx := ctx
		if timeout := p.cfg.ClassifierTimeout(); timeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		res, err := p.classifier.Classify(cctx, sessionID, participantID, sample)
		if err != nil {
			if errors.Is(err, apperr.ErrValidation) {
				return res, backoff.Permanent(err)
			}
			slog.Warn("classifier attempt failed", "session_id", sessionID, "participant_id", participantID, "error", err)
			return res, err
		}
		if err := validateResult(res); err != nil {
			return res, backoff.Permanent(fmt.Errorf("classifier returned a malformed result: %w", err))
		}
		return res, nil
	}
	res, err := backoff.Retry(ctx, op, backoff.WithBackOff(p.newBackOff()), backoff.WithMaxTries(uint(attempts)))
	if err != nil {
		p.metrics.RecordClassifierFailure()
		slog.Error("classifier unavailable", "session_id", sessionID, "participant_id", participantID, "attempts", attempts, "error", err)
		if errors.Is(err, apperr.ErrValidation) {
			return classifier.Result{}, err
		}
		return classifier.Result{}, apperr.Wrap(apperr.KindUnavailable, "classifier", err)
	}
	return res, nil
}

func (p *Pipeline) setDegraded(ctx context.Context, sessionID string, degraded bool, reason string) {
	err := p.sessions.Within(ctx, sessionID, func(tx session.Tx) error {
		tx.SetMonitoringDegraded(degraded, reason)
		return nil
	})
	if err != nil {
		slog.Warn("failed to update monitoring health", "session_id", sessionID, "error", err)
	}
}

func (p *Pipeline) allowReport(sessionID, reporterID string) bool {
	perMin := p.cfg.ReportRatePerMin
	if perMin <= 0 {
		return true
	}
	key := sessionID + "/" + reporterID
	p.limitersMu.Lock()
	l, ok := p.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), perMin)
		p.limiters[key] = l
	}
	p.limitersMu.Unlock()
	return l.AllowN(p.clock.Now(), 1)
}

func (p *Pipeline) publish(sessionID string, typ fanout.EventType, payload AlertPayload) {
	if _, err := p.hub.Publish(sessionID, typ, fanout.LanePriority, payload); err != nil {
		slog.Error("failed to publish alert event", "session_id", sessionID, "alert_id", payload.Alert.ID, "type", typ, "error", err)
	}
}

func validateResult(res classifier.Result) error {
	if math.IsNaN(res.Confidence) || res.Confidence < 0 || res.Confidence > 1 {
		return apperr.New(apperr.KindValidation, "confidence must be between 0 and 1")
	}
	if res.IsFlagged && !res.Severity.Valid() {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("unknown severity %q", res.Severity))
	}
	return nil
}

func categoryOf(triggers []string, fallback repository.AlertCategory) repository.AlertCategory {
	for _, t := range triggers {
		if strings.HasPrefix(t, crisisTriggerPrefix) {
			return repository.AlertCategoryCrisis
		}
	}
	return fallback
}
