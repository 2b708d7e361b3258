package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/foxseedlab/sanctuary/internal/apperr"
	"github.com/foxseedlab/sanctuary/internal/fanout"
	"github.com/foxseedlab/sanctuary/internal/media"
	"github.com/foxseedlab/sanctuary/internal/repository"
	"github.com/google/uuid"
)

const (
	maxTopicLength       = 120
	maxDescriptionLength = 1000
	maxAliasLength       = 32
	maxDurationMinutes   = 8 * 60
	maxSessionCapacity   = 100
)

type CreateSessionInput struct {
	Topic           string                     `json:"topic"`
	Description     string                     `json:"description"`
	AccessType      repository.AccessType      `json:"access_type"`
	ScheduledAt     *time.Time                 `json:"scheduled_at,omitempty"`
	DurationMinutes int                        `json:"duration_minutes"`
	MaxParticipants int                        `json:"max_participants"`
	HostID          string                     `json:"host_id"`
	Features        repository.SessionFeatures `json:"features"`
	Invitees        []string                   `json:"invitees,omitempty"`
}

type AdmitInput struct {
	ParticipantID string `json:"participant_id"`
	Alias         string `json:"alias"`
	Acknowledged  bool   `json:"acknowledged"`
}

type Admission struct {
	Participant repository.Participant `json:"participant"`
	ChannelID   string                 `json:"channel_id"`
	ChannelName string                 `json:"channel_name"`
	JoinToken   string                 `json:"join_token"`
}

func (m *Manager) validateCreate(in *CreateSessionInput, now time.Time) error {
	in.Topic = strings.TrimSpace(in.Topic)
	if in.Topic == "" {
		return apperr.New(apperr.KindValidation, "topic is required")
	}
	if utf8.RuneCountInString(in.Topic) > maxTopicLength {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("topic must be at most %d characters", maxTopicLength))
	}
	if utf8.RuneCountInString(in.Description) > maxDescriptionLength {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("description must be at most %d characters", maxDescriptionLength))
	}
	if in.HostID == "" {
		return apperr.New(apperr.KindValidation, "host identity is required")
	}
	if in.AccessType == "" {
		in.AccessType = repository.AccessPublic
	}
	if !in.AccessType.Valid() {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("unknown access type %q", in.AccessType))
	}
	if in.DurationMinutes == 0 {
		in.DurationMinutes = m.cfg.DefaultDurationMin
	}
	if in.DurationMinutes < 1 || in.DurationMinutes > maxDurationMinutes {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("duration must be between 1 and %d minutes", maxDurationMinutes))
	}
	if in.MaxParticipants == 0 {
		in.MaxParticipants = m.cfg.DefaultMaxParticipants
	}
	if in.MaxParticipants < 2 || in.MaxParticipants > maxSessionCapacity {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("max participants must be between 2 and %d", maxSessionCapacity))
	}
	if in.ScheduledAt != nil && !in.ScheduledAt.After(now) {
		return apperr.New(apperr.KindValidation, "scheduled time must be in the future")
	}
	return nil
}

// CreateSession starts an instant session, or a deferred one when ScheduledAt
// is set. The media channel is allocated before anything is stored.
func (m *Manager) CreateSession(ctx context.Context, in CreateSessionInput) (repository.Session, error) {
	now := m.clock.Now()
	if err := m.validateCreate(&in, now); err != nil {
		m.record(ctx, "", in.HostID, "create_session", "", err)
		return repository.Session{}, err
	}

	id := uuid.NewString()
	ch, err := m.media.AllocateChannel(ctx, id, in.Topic, in.MaxParticipants)
	if err != nil {
		err = apperr.Wrap(apperr.KindUnavailable, "allocate media channel", err)
		m.record(ctx, id, in.HostID, "create_session", "", err)
		return repository.Session{}, err
	}

	s := repository.Session{
		ID:              id,
		Topic:           in.Topic,
		Description:     in.Description,
		AccessType:      in.AccessType,
		Status:          repository.SessionStatusLive,
		DurationMinutes: in.DurationMinutes,
		MaxParticipants: in.MaxParticipants,
		HostID:          in.HostID,
		Features:        in.Features,
		Invitees:        slices.Clone(in.Invitees),
		ChannelID:       ch.ID,
		ChannelName:     ch.Name,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if in.ScheduledAt != nil {
		at := *in.ScheduledAt
		s.Status = repository.SessionStatusScheduled
		s.ScheduledAt = &at
	} else {
		s.StartedAt = &now
	}

	if err := m.repo.SaveSession(ctx, s); err != nil {
		if rerr := m.media.ReleaseChannel(context.WithoutCancel(ctx), ch.ID); rerr != nil {
			slog.Error("failed to release media channel after store failure", "session_id", id, "channel_id", ch.ID, "error", rerr)
		}
		err = apperr.Wrap(apperr.KindUnavailable, "store session", err)
		m.record(ctx, id, in.HostID, "create_session", "", err)
		return repository.Session{}, err
	}

	release, err := m.locks.Lock(ctx, id)
	if err != nil {
		return repository.Session{}, fmt.Errorf("lock session %s: %w", id, err)
	}
	defer release()

	ls := newLiveSession(s)
	m.mu.Lock()
	m.sessions[id] = ls
	m.mu.Unlock()

	m.metrics.RecordTransition(s.Status)
	m.publishStatus(ls)
	if !m.advanceLocked(ctx, ls) {
		m.armLocked(ls)
	}
	m.record(ctx, id, in.HostID, "create_session", "", nil)
	slog.Info("session created", "session_id", id, "status", ls.session.Status, "access_type", s.AccessType, "scheduled_at", s.ScheduledAt, "channel_id", ch.ID)
	return ls.snapshot(), nil
}

// Schedule moves the start time of a session that has not opened its lobby yet.
func (m *Manager) Schedule(ctx context.Context, sessionID, actor string, at time.Time) (repository.Session, error) {
	ls, release, err := m.lockSession(ctx, sessionID)
	if err != nil {
		m.record(ctx, sessionID, actor, "schedule", "", err)
		return repository.Session{}, err
	}
	defer release()

	err = m.schedule(ctx, ls, actor, at)
	m.record(ctx, sessionID, actor, "schedule", at.UTC().Format(time.RFC3339), err)
	return ls.snapshot(), err
}

func (m *Manager) schedule(ctx context.Context, ls *liveSession, actor string, at time.Time) error {
	if err := m.requireHost(ls, actor); err != nil {
		return err
	}
	if ls.session.Status != repository.SessionStatusScheduled {
		return ErrInvalidStatus
	}
	if !at.After(m.clock.Now()) {
		return apperr.New(apperr.KindValidation, "scheduled time must be in the future")
	}
	ls.session.ScheduledAt = &at
	m.persistSession(ctx, ls)
	m.publishStatus(ls)
	if !m.advanceLocked(ctx, ls) {
		m.armLocked(ls)
	}
	return nil
}

// Reopen sends a session in its lobby back to scheduled with a new start
// time. It is the only transition that moves a session backwards.
func (m *Manager) Reopen(ctx context.Context, sessionID, actor string, at time.Time) (repository.Session, error) {
	ls, release, err := m.lockSession(ctx, sessionID)
	if err != nil {
		m.record(ctx, sessionID, actor, "reopen", "", err)
		return repository.Session{}, err
	}
	defer release()

	err = m.reopen(ctx, ls, actor, at)
	m.record(ctx, sessionID, actor, "reopen", at.UTC().Format(time.RFC3339), err)
	return ls.snapshot(), err
}

func (m *Manager) reopen(ctx context.Context, ls *liveSession, actor string, at time.Time) error {
	if err := m.requireHost(ls, actor); err != nil {
		return err
	}
	if ls.session.Status != repository.SessionStatusWaiting {
		return ErrInvalidStatus
	}
	if at.Before(m.clock.Now().Add(m.lobbyLead())) {
		return apperr.New(apperr.KindValidation, "reopened start time must be after the lobby window")
	}
	ls.session.Status = repository.SessionStatusScheduled
	ls.session.ScheduledAt = &at
	m.metrics.RecordTransition(repository.SessionStatusScheduled)
	m.persistSession(ctx, ls)
	m.publishStatus(ls)
	m.armLocked(ls)
	slog.Info("session reopened", "session_id", ls.session.ID, "scheduled_at", at)
	return nil
}

// StartNow opens a scheduled or waiting session immediately. Starting a
// session that is already open is a no-op.
func (m *Manager) StartNow(ctx context.Context, sessionID, actor string) (repository.Session, error) {
	ls, release, err := m.lockSession(ctx, sessionID)
	if err != nil {
		m.record(ctx, sessionID, actor, "start_now", "", err)
		return repository.Session{}, err
	}
	defer release()

	err = m.startNow(ctx, ls, actor)
	m.record(ctx, sessionID, actor, "start_now", "", err)
	return ls.snapshot(), err
}

func (m *Manager) startNow(ctx context.Context, ls *liveSession, actor string) error {
	if err := m.requirePrivileged(ls, actor); err != nil {
		return err
	}
	switch ls.session.Status {
	case repository.SessionStatusLive, repository.SessionStatusActive:
		return nil
	case repository.SessionStatusEnded:
		return ErrSessionEnded
	}
	now := m.clock.Now()
	ls.session.Status = repository.SessionStatusLive
	ls.session.StartedAt = &now
	m.metrics.RecordTransition(repository.SessionStatusLive)
	m.persistSession(ctx, ls)
	m.publishStatus(ls)
	m.armLocked(ls)
	slog.Info("session force started", "session_id", ls.session.ID, "actor_id", actor)
	return nil
}

// CancelSchedule ends a session before it opens. The pending conversion timer
// is invalidated under the session lock, so it can never fire afterwards.
func (m *Manager) CancelSchedule(ctx context.Context, sessionID, actor string) (repository.Session, error) {
	ls, release, err := m.lockSession(ctx, sessionID)
	if err != nil {
		m.record(ctx, sessionID, actor, "cancel_schedule", "", err)
		return repository.Session{}, err
	}
	defer release()

	err = m.cancelSchedule(ctx, ls, actor)
	m.record(ctx, sessionID, actor, "cancel_schedule", "", err)
	return ls.snapshot(), err
}

func (m *Manager) cancelSchedule(ctx context.Context, ls *liveSession, actor string) error {
	if err := m.requireHost(ls, actor); err != nil {
		return err
	}
	switch ls.session.Status {
	case repository.SessionStatusScheduled, repository.SessionStatusWaiting:
	case repository.SessionStatusEnded:
		return ErrSessionEnded
	default:
		return ErrInvalidStatus
	}
	m.endLocked(ctx, ls, endReasonCancelled)
	return nil
}

func (m *Manager) End(ctx context.Context, sessionID, actor string) (repository.Session, error) {
	ls, release, err := m.lockSession(ctx, sessionID)
	if err != nil {
		m.record(ctx, sessionID, actor, "end", "", err)
		return repository.Session{}, err
	}
	defer release()

	err = m.end(ctx, ls, actor)
	m.record(ctx, sessionID, actor, "end", "", err)
	return ls.snapshot(), err
}

func (m *Manager) end(ctx context.Context, ls *liveSession, actor string) error {
	if ls.session.Status == repository.SessionStatusEnded {
		return ErrSessionEnded
	}
	reason := endReasonHost
	if actor != ls.session.HostID {
		if err := m.requirePrivileged(ls, actor); err != nil {
			return err
		}
		reason = endReasonModerator
	}
	m.endLocked(ctx, ls, reason)
	return nil
}

// endLocked is the terminal transition. Rooms close, every participant leaves,
// tokens are revoked and the media channel is released.
func (m *Manager) endLocked(ctx context.Context, ls *liveSession, reason string) {
	m.disarmLocked(ls)
	now := m.clock.Now()
	s := &ls.session
	from := s.Status
	s.Status = repository.SessionStatusEnded
	s.EndedAt = &now
	s.EndReason = reason

	for _, room := range orderedRooms(ls) {
		if room.Status == repository.RoomStatusEnded {
			continue
		}
		room.Status = repository.RoomStatusEnded
		room.EndedAt = &now
		room.Members = nil
		m.persistRoom(ctx, room)
		m.publish(s.ID, fanout.EventRoomDeleted, fanout.LaneNormal, RoomPayload{Room: *room, Reason: leaveReasonSessionEnded})
	}

	for _, ps := range ls.participants {
		if !ps.p.Present() {
			continue
		}
		ps.p.LeftAt = &now
		ps.p.LeaveReason = leaveReasonSessionEnded
		ps.p.RoomID = ""
		ps.p.HandRaised = false
		ps.p.HandRaisedAt = nil
		ps.p.Reactions = nil
		m.revokeToken(ctx, s, ps)
		m.detachParticipant(s.ID, ps.p.ID)
		m.persistParticipant(ctx, ps)
	}

	if s.ChannelID != "" {
		if err := m.media.ReleaseChannel(context.WithoutCancel(ctx), s.ChannelID); err != nil {
			slog.Error("failed to release media channel", "session_id", s.ID, "channel_id", s.ChannelID, "error", err)
		}
	}

	m.metrics.RecordTransition(repository.SessionStatusEnded)
	m.persistSession(ctx, ls)
	m.publishStatus(ls)
	m.hub.CloseSession(s.ID)
	m.monitor.ForgetSession(s.ID)
	slog.Info("session ended", "session_id", s.ID, "from", from, "reason", reason)
}

func (m *Manager) revokeToken(ctx context.Context, s *repository.Session, ps *participantState) {
	if ps.p.MediaToken == "" {
		return
	}
	tok := media.Token{Value: ps.p.MediaToken, ChannelID: s.ChannelID}
	if err := m.media.RevokeToken(context.WithoutCancel(ctx), tok); err != nil {
		slog.Error("failed to revoke media token", "session_id", s.ID, "participant_id", ps.p.ID, "error", err)
	}
	ps.p.MediaToken = ""
}

// Admit lets a participant into the session. The host may enter at any time
// before the end; everyone else needs to acknowledge the guidelines and wait
// for the session to open. Admitting a present participant again returns the
// existing record.
func (m *Manager) Admit(ctx context.Context, sessionID string, in AdmitInput) (Admission, error) {
	ls, release, err := m.lockSession(ctx, sessionID)
	if err != nil {
		m.record(ctx, sessionID, in.ParticipantID, "admit", in.ParticipantID, err)
		m.metrics.RecordAdmission(err)
		return Admission{}, err
	}
	defer release()

	adm, err := m.admit(ctx, ls, in)
	m.record(ctx, sessionID, in.ParticipantID, "admit", in.ParticipantID, err)
	m.metrics.RecordAdmission(err)
	return adm, err
}

func (m *Manager) admit(ctx context.Context, ls *liveSession, in AdmitInput) (Admission, error) {
	s := &ls.session
	if in.ParticipantID == "" {
		return Admission{}, apperr.New(apperr.KindValidation, "participant identity is required")
	}
	in.Alias = strings.TrimSpace(in.Alias)
	if utf8.RuneCountInString(in.Alias) > maxAliasLength {
		return Admission{}, apperr.New(apperr.KindValidation, fmt.Sprintf("alias must be at most %d characters", maxAliasLength))
	}
	if s.Status == repository.SessionStatusEnded {
		return Admission{}, ErrSessionEnded
	}
	if _, banned := ls.kicked[in.ParticipantID]; banned {
		return Admission{}, ErrKicked
	}
	existing, known := ls.participants[in.ParticipantID]
	if known && existing.p.Present() {
		if existing.p.MediaToken == "" {
			tok, err := m.media.IssueToken(ctx, s.ChannelID, in.ParticipantID)
			if err != nil {
				return Admission{}, apperr.Wrap(apperr.KindUnavailable, "issue media token", err)
			}
			existing.p.MediaToken = tok.Value
			m.persistParticipant(ctx, existing)
		}
		return m.admission(ls, existing), nil
	}

	isHost := in.ParticipantID == s.HostID
	if !isHost {
		if !in.Acknowledged {
			return Admission{}, ErrNotAcknowledged
		}
		if !s.Status.IsOpen() {
			return Admission{}, ErrNotYetOpen
		}
		if s.AccessType != repository.AccessPublic && !slices.Contains(s.Invitees, in.ParticipantID) {
			return Admission{}, ErrNotInvited
		}
	}
	if m.presentCount(ls) >= s.MaxParticipants {
		return Admission{}, ErrSessionFull
	}

	tok, err := m.media.IssueToken(ctx, s.ChannelID, in.ParticipantID)
	if err != nil {
		return Admission{}, apperr.Wrap(apperr.KindUnavailable, "issue media token", err)
	}

	now := m.clock.Now()
	ls.admissionSeq++
	p := repository.Participant{
		SessionID:        s.ID,
		ID:               in.ParticipantID,
		Alias:            in.Alias,
		Role:             repository.RoleMember,
		ConnectionStatus: repository.ConnectionConnecting,
		AdmissionSeq:     ls.admissionSeq,
		JoinedAt:         now,
		MediaToken:       tok.Value,
	}
	if isHost {
		p.Role = repository.RoleHost
	} else if known && existing.p.Role == repository.RoleModerator {
		p.Role = repository.RoleModerator
	}
	if p.Alias == "" {
		p.Alias = fmt.Sprintf("Guest %d", ls.admissionSeq)
	}
	ps := m.attachParticipant(ls, p)
	m.persistParticipant(ctx, ps)

	m.publish(s.ID, fanout.EventParticipantJoined, fanout.LaneNormal, ParticipantPayload{Participant: m.participantSnapshot(ps)})
	if !isHost && s.Status == repository.SessionStatusLive {
		s.Status = repository.SessionStatusActive
		m.metrics.RecordTransition(repository.SessionStatusActive)
		m.persistSession(ctx, ls)
		m.publishStatus(ls)
	}
	slog.Info("participant admitted", "session_id", s.ID, "participant_id", p.ID, "role", p.Role, "rejoin", known)
	return m.admission(ls, ps), nil
}

func (m *Manager) admission(ls *liveSession, ps *participantState) Admission {
	return Admission{
		Participant: m.participantSnapshot(ps),
		ChannelID:   ls.session.ChannelID,
		ChannelName: ls.session.ChannelName,
		JoinToken:   ps.p.MediaToken,
	}
}

func (m *Manager) presentCount(ls *liveSession) int {
	n := 0
	for _, ps := range ls.participants {
		if ps.p.Present() {
			n++
		}
	}
	return n
}
