package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/sanctuary/internal/apperr"
	"github.com/foxseedlab/sanctuary/internal/audit"
	"github.com/foxseedlab/sanctuary/internal/clock"
	"github.com/foxseedlab/sanctuary/internal/config"
	"github.com/foxseedlab/sanctuary/internal/fanout"
	"github.com/foxseedlab/sanctuary/internal/locker"
	"github.com/foxseedlab/sanctuary/internal/media"
	"github.com/foxseedlab/sanctuary/internal/quality"
	"github.com/foxseedlab/sanctuary/internal/repository"
)

const endedRetention = time.Hour

type Publisher interface {
	Publish(sessionID string, typ fanout.EventType, lane fanout.Lane, payload any) (fanout.Event, error)
	CloseSession(sessionID string)
	Forget(sessionID string)
	LastSeq(sessionID string) uint64
}

// IdempotencyStore remembers the first value claimed for a key.
type IdempotencyStore interface {
	Claim(ctx context.Context, key, value string, ttl time.Duration) (existing string, claimed bool, err error)
}

type Manager struct {
	cfg     *config.Config
	repo    repository.Repository
	media   media.Transport
	hub     Publisher
	idem    IdempotencyStore
	clock   clock.Clock
	locks   *locker.Keyed
	audit   *audit.Recorder
	monitor *quality.Monitor
	metrics *Metrics

	mu       sync.RWMutex
	sessions map[string]*liveSession
	rooms    map[string]string

	presence sync.Map
}

type liveSession struct {
	session      repository.Session
	participants map[string]*participantState
	rooms        map[string]*repository.BreakoutRoom
	kicked       map[string]struct{}
	admissionSeq int64
	roomSeq      int64
	timer        clock.Timer
	generation   uint64
}

type participantState struct {
	p         repository.Participant
	telemetry atomic.Pointer[telemetry]
}

type telemetry struct {
	AudioLevel       int
	ConnectionStatus repository.ConnectionStatus
	Quality          string
}

type presenceKey struct {
	sessionID     string
	participantID string
}

// View is a consistent snapshot of a session. Seq is the last event sequence
// published before the snapshot was taken.
type View struct {
	Session      repository.Session        `json:"session"`
	Participants []repository.Participant  `json:"participants"`
	Rooms        []repository.BreakoutRoom `json:"rooms"`
	Seq          uint64                    `json:"seq"`
}

func NewManager(cfg *config.Config, repo repository.Repository, transport media.Transport, hub Publisher, idem IdempotencyStore, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.Real{}
	}
	m := &Manager{
		cfg:      cfg,
		repo:     repo,
		media:    transport,
		hub:      hub,
		idem:     idem,
		clock:    clk,
		locks:    locker.New(),
		audit:    audit.NewRecorder(repo, clk.Now),
		metrics:  NewMetrics(),
		sessions: make(map[string]*liveSession),
		rooms:    make(map[string]string),
	}
	th := quality.DefaultThresholds()
	if cfg.TelemetryStaleSec > 0 {
		th.StaleAfter = cfg.TelemetryStaleAfter()
	}
	m.monitor = quality.NewMonitor(th, m)
	return m
}

func (m *Manager) lockSession(ctx context.Context, sessionID string) (*liveSession, func(), error) {
	if sessionID == "" {
		return nil, nil, ErrSessionNotFound
	}
	release, err := m.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("lock session %s: %w", sessionID, err)
	}
	ls, err := m.load(ctx, sessionID)
	if err != nil {
		release()
		return nil, nil, err
	}
	m.advanceLocked(ctx, ls)
	return ls, release, nil
}

func (m *Manager) lookup(sessionID string) *liveSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// load returns the in-memory state of a session, rebuilding it from the
// repository when this process does not hold it. Caller holds the session lock.
func (m *Manager) load(ctx context.Context, sessionID string) (*liveSession, error) {
	if ls := m.lookup(sessionID); ls != nil {
		return ls, nil
	}
	s, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, apperr.Wrap(apperr.KindUnavailable, "load session", err)
	}
	participants, err := m.repo.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "load participants", err)
	}
	rooms, err := m.repo.ListRooms(ctx, sessionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "load rooms", err)
	}

	ls := newLiveSession(*s)
	for _, p := range participants {
		if p.Present() {
			p.ConnectionStatus = repository.ConnectionDisconnected
		}
		m.attachParticipant(ls, p)
		if p.LeaveReason == leaveReasonKicked {
			ls.kicked[p.ID] = struct{}{}
		}
		if p.AdmissionSeq > ls.admissionSeq {
			ls.admissionSeq = p.AdmissionSeq
		}
	}
	for i := range rooms {
		room := rooms[i]
		ls.rooms[room.ID] = &room
		if room.Seq > ls.roomSeq {
			ls.roomSeq = room.Seq
		}
	}

	m.mu.Lock()
	m.sessions[sessionID] = ls
	for roomID := range ls.rooms {
		m.rooms[roomID] = sessionID
	}
	m.mu.Unlock()
	m.armLocked(ls)
	slog.Info("session loaded from repository", "session_id", sessionID, "status", s.Status, "participants", len(participants), "rooms", len(rooms))
	return ls, nil
}

func newLiveSession(s repository.Session) *liveSession {
	return &liveSession{
		session:      s,
		participants: make(map[string]*participantState),
		rooms:        make(map[string]*repository.BreakoutRoom),
		kicked:       make(map[string]struct{}),
	}
}

func (m *Manager) attachParticipant(ls *liveSession, p repository.Participant) *participantState {
	ps, ok := ls.participants[p.ID]
	if !ok {
		ps = &participantState{}
		ls.participants[p.ID] = ps
	}
	ps.p = p
	if p.Present() {
		ps.telemetry.Store(&telemetry{AudioLevel: p.AudioLevel, ConnectionStatus: p.ConnectionStatus, Quality: p.ConnectionQuality})
		m.presence.Store(presenceKey{sessionID: p.SessionID, participantID: p.ID}, ps)
	}
	return ps
}

func (m *Manager) detachParticipant(sessionID, participantID string) {
	m.presence.Delete(presenceKey{sessionID: sessionID, participantID: participantID})
	m.monitor.Forget(sessionID, participantID)
}

// Restore loads every non-ended session so their conversion timers run again.
func (m *Manager) Restore(ctx context.Context) error {
	list, err := m.repo.ListSessionsByStatus(ctx,
		repository.SessionStatusScheduled, repository.SessionStatusWaiting,
		repository.SessionStatusLive, repository.SessionStatusActive)
	if err != nil {
		return fmt.Errorf("list open sessions: %w", err)
	}
	for _, s := range list {
		_, release, err := m.lockSession(ctx, s.ID)
		if err != nil {
			slog.Error("failed to restore session", "session_id", s.ID, "error", err)
			continue
		}
		release()
	}
	slog.Info("sessions restored", "count", len(list))
	return nil
}

func (m *Manager) Get(ctx context.Context, sessionID string) (View, error) {
	ls, release, err := m.lockSession(ctx, sessionID)
	if err != nil {
		return View{}, err
	}
	defer release()
	return m.viewLocked(ls), nil
}

// ListSessions returns public sessions that have not ended, soonest first.
func (m *Manager) ListSessions(ctx context.Context) ([]repository.Session, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var list []repository.Session
	for _, id := range ids {
		ls, release, err := m.lockSession(ctx, id)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				continue
			}
			return nil, err
		}
		s := ls.session
		release()
		if s.Status == repository.SessionStatusEnded || s.AccessType != repository.AccessPublic {
			continue
		}
		s.Invitees = nil
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool {
		return startKey(list[i]).Before(startKey(list[j]))
	})
	return list, nil
}

func startKey(s repository.Session) time.Time {
	if s.ScheduledAt != nil {
		return *s.ScheduledAt
	}
	if s.StartedAt != nil {
		return *s.StartedAt
	}
	return s.CreatedAt
}

func (m *Manager) viewLocked(ls *liveSession) View {
	v := View{
		Session: ls.snapshot(),
		Seq:     m.hub.LastSeq(ls.session.ID),
	}
	for _, ps := range ls.participants {
		if !ps.p.Present() {
			continue
		}
		v.Participants = append(v.Participants, m.participantSnapshot(ps))
	}
	sort.Slice(v.Participants, func(i, j int) bool {
		return v.Participants[i].AdmissionSeq < v.Participants[j].AdmissionSeq
	})
	for _, room := range orderedRooms(ls) {
		r := *room
		r.Members = slices.Clone(room.Members)
		v.Rooms = append(v.Rooms, r)
	}
	return v
}

func (m *Manager) participantSnapshot(ps *participantState) repository.Participant {
	p := ps.p
	p.Reactions = slices.Clone(ps.p.Reactions)
	if t := ps.telemetry.Load(); t != nil {
		p.AudioLevel = t.AudioLevel
		p.ConnectionStatus = t.ConnectionStatus
		p.ConnectionQuality = t.Quality
	}
	return p
}

func orderedRooms(ls *liveSession) []*repository.BreakoutRoom {
	rooms := make([]*repository.BreakoutRoom, 0, len(ls.rooms))
	for _, r := range ls.rooms {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Seq < rooms[j].Seq })
	return rooms
}

func (m *Manager) roleOf(ls *liveSession, participantID string) repository.Role {
	if participantID != "" && participantID == ls.session.HostID {
		return repository.RoleHost
	}
	if ps, ok := ls.participants[participantID]; ok && ps.p.Present() {
		return ps.p.Role
	}
	return ""
}

func (m *Manager) requirePrivileged(ls *liveSession, actor string) error {
	role := m.roleOf(ls, actor)
	if role == "" {
		return ErrNotParticipant
	}
	if !role.Privileged() {
		return ErrNotPrivileged
	}
	return nil
}

func (m *Manager) requireHost(ls *liveSession, actor string) error {
	if actor == "" || actor != ls.session.HostID {
		return ErrNotHost
	}
	return nil
}

func (m *Manager) presentParticipant(ls *liveSession, participantID string) (*participantState, error) {
	ps, ok := ls.participants[participantID]
	if !ok || !ps.p.Present() {
		return nil, ErrParticipantNotFound
	}
	return ps, nil
}

func (m *Manager) publish(sessionID string, typ fanout.EventType, lane fanout.Lane, payload any) {
	if _, err := m.hub.Publish(sessionID, typ, lane, payload); err != nil {
		slog.Error("failed to publish session event", "session_id", sessionID, "type", typ, "error", err)
	}
}

func (m *Manager) publishStatus(ls *liveSession) {
	s := ls.session
	m.publish(s.ID, fanout.EventSessionStatus, fanout.LaneNormal, StatusPayload{
		Status:      s.Status,
		ScheduledAt: s.ScheduledAt,
		StartedAt:   s.StartedAt,
		EndedAt:     s.EndedAt,
		EndReason:   s.EndReason,
		Detail:      statusDetail(s),
	})
}

func statusDetail(s repository.Session) string {
	if s.Status == repository.SessionStatusEnded {
		return endReasonDetail(s.EndReason)
	}
	return ""
}

func (m *Manager) persistSession(ctx context.Context, ls *liveSession) {
	ls.session.UpdatedAt = m.clock.Now()
	if err := m.repo.SaveSession(context.WithoutCancel(ctx), ls.session); err != nil {
		slog.Error("failed to persist session", "session_id", ls.session.ID, "status", ls.session.Status, "error", err)
	}
}

func (m *Manager) persistParticipant(ctx context.Context, ps *participantState) {
	p := m.participantSnapshot(ps)
	if err := m.repo.SaveParticipant(context.WithoutCancel(ctx), p); err != nil {
		slog.Error("failed to persist participant", "session_id", p.SessionID, "participant_id", p.ID, "error", err)
	}
}

func (m *Manager) persistRoom(ctx context.Context, room *repository.BreakoutRoom) {
	if err := m.repo.SaveRoom(context.WithoutCancel(ctx), *room); err != nil {
		slog.Error("failed to persist breakout room", "session_id", room.SessionID, "room_id", room.ID, "error", err)
	}
}

func (m *Manager) record(ctx context.Context, sessionID, actor, operation, target string, err error) {
	m.audit.Record(ctx, sessionID, actor, operation, target, err)
}

// Tx exposes a session to collaborators running inside its critical section.
type Tx interface {
	Session() repository.Session
	RoleOf(participantID string) repository.Role
	IsPresent(participantID string) bool
	SetMonitoringDegraded(degraded bool, reason string) bool
}

type sessionTx struct {
	ctx context.Context
	m   *Manager
	ls  *liveSession
}

func (t *sessionTx) Session() repository.Session {
	return t.ls.snapshot()
}

func (t *sessionTx) RoleOf(participantID string) repository.Role {
	return t.m.roleOf(t.ls, participantID)
}

func (t *sessionTx) IsPresent(participantID string) bool {
	_, err := t.m.presentParticipant(t.ls, participantID)
	return err == nil
}

// SetMonitoringDegraded flips the monitoring health of the session and
// publishes it on the priority lane. It reports whether the flag changed.
func (t *sessionTx) SetMonitoringDegraded(degraded bool, reason string) bool {
	if t.ls.session.MonitoringDegraded == degraded {
		return false
	}
	t.ls.session.MonitoringDegraded = degraded
	t.m.persistSession(t.ctx, t.ls)
	t.m.publish(t.ls.session.ID, fanout.EventMonitoringHealth, fanout.LanePriority, HealthPayload{
		MonitoringDegraded: degraded,
		Reason:             reason,
	})
	slog.Warn("session monitoring health changed", "session_id", t.ls.session.ID, "degraded", degraded, "reason", reason)
	return true
}

// Within runs fn while holding the session lock, serializing it with every
// other mutation of the session.
func (m *Manager) Within(ctx context.Context, sessionID string, fn func(tx Tx) error) error {
	ls, release, err := m.lockSession(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()
	return fn(&sessionTx{ctx: ctx, m: m, ls: ls})
}

func (ls *liveSession) snapshot() repository.Session {
	s := ls.session
	s.Invitees = slices.Clone(ls.session.Invitees)
	return s
}
