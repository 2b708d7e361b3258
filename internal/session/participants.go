package session

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/foxseedlab/sanctuary/internal/apperr"
	"github.com/foxseedlab/sanctuary/internal/fanout"
	"github.com/foxseedlab/sanctuary/internal/quality"
	"github.com/foxseedlab/sanctuary/internal/repository"
)

const (
	speakingLevel      = 10
	maxActiveReactions = 5
	maxEmojiRunes      = 8
	defaultReactionTTL = 5 * time.Second
)

func (m *Manager) Leave(ctx context.Context, sessionID, participantID string) error {
	ls, release, err := m.lockSession(ctx, sessionID)
	if err != nil {
		m.record(ctx, sessionID, participantID, "leave", participantID, err)
		return err
	}
	defer release()

	ps, err := m.presentParticipant(ls, participantID)
	if err == nil {
		m.removeLocked(ctx, ls, ps, leaveReasonLeft)
	}
	m.record(ctx, sessionID, participantID, "leave", participantID, err)
	return err
}

// Kick removes a participant and bars the identity from coming back. Only the
// host may kick a moderator; nobody may kick the host.
func (m *Manager) Kick(ctx context.Context, sessionID, actor, target string) error {
	ls, release, err := m.lockSession(ctx, sessionID)
	if err != nil {
		m.record(ctx, sessionID, actor, "kick", target, err)
		return err
	}
	defer release()

	err = m.kick(ctx, ls, actor, target)
	m.record(ctx, sessionID, actor, "kick", target, err)
	return err
}

func (m *Manager) kick(ctx context.Context, ls *liveSession, actor, target string) error {
	if err := m.requirePrivileged(ls, actor); err != nil {
		return err
	}
	if target == ls.session.HostID {
		return ErrHostProtected
	}
	ps, err := m.presentParticipant(ls, target)
	if err != nil {
		return err
	}
	if ps.p.Role == repository.RoleModerator && m.roleOf(ls, actor) != repository.RoleHost {
		return ErrNotHost
	}
	ls.kicked[target] = struct{}{}
	m.removeLocked(ctx, ls, ps, leaveReasonKicked)
	return nil
}

// removeLocked takes a participant out of the session and out of any breakout
// room in the same critical section.
func (m *Manager) removeLocked(ctx context.Context, ls *liveSession, ps *participantState, reason string) {
	now := m.clock.Now()
	sessionID := ls.session.ID

	m.detachFromRoomsLocked(ctx, ls, ps.p.ID, true)

	ps.p.LeftAt = &now
	ps.p.LeaveReason = reason
	ps.p.RoomID = ""
	ps.p.HandRaised = false
	ps.p.HandRaisedAt = nil
	ps.p.Reactions = nil
	m.revokeToken(ctx, &ls.session, ps)
	if t := ps.telemetry.Load(); t != nil {
		next := *t
		next.ConnectionStatus = repository.ConnectionDisconnected
		next.AudioLevel = 0
		ps.telemetry.Store(&next)
	}
	m.detachParticipant(sessionID, ps.p.ID)
	m.persistParticipant(ctx, ps)

	typ := fanout.EventParticipantLeft
	if reason == leaveReasonKicked {
		typ = fanout.EventParticipantKicked
	}
	m.publish(sessionID, typ, fanout.LaneNormal, ParticipantPayload{Participant: m.participantSnapshot(ps), Reason: reason})
	slog.Info("participant removed", "session_id", sessionID, "participant_id", ps.p.ID, "reason", reason)
}

// SetRole promotes or demotes a participant. Only the host may do it and the
// host role itself can be neither granted nor revoked.
func (m *Manager) SetRole(ctx context.Context, sessionID, actor, target string, role repository.Role) error {
	ls, release, err := m.lockSession(ctx, sessionID)
	if err != nil {
		m.record(ctx, sessionID, actor, "set_role", target, err)
		return err
	}
	defer release()

	err = m.setRole(ctx, ls, actor, target, role)
	m.record(ctx, sessionID, actor, "set_role", target, err)
	return err
}

func (m *Manager) setRole(ctx context.Context, ls *liveSession, actor, target string, role repository.Role) error {
	if err := m.requireHost(ls, actor); err != nil {
		return err
	}
	if role != repository.RoleModerator && role != repository.RoleMember {
		return apperr.New(apperr.KindValidation, "role must be moderator or member")
	}
	if target == ls.session.HostID {
		return ErrHostProtected
	}
	ps, err := m.presentParticipant(ls, target)
	if err != nil {
		return err
	}
	if ps.p.Role == role {
		return nil
	}
	ps.p.Role = role
	m.persistParticipant(ctx, ps)
	m.publishParticipant(ls, ps, "role_changed")
	return nil
}

// SetMuted mutes or unmutes target. Muting someone else needs host or
// moderator privilege; unmuting is always left to the participant.
func (m *Manager) SetMuted(ctx context.Context, sessionID, actor, target string, muted bool) error {
	ls, release, err := m.lockSession(ctx, sessionID)
	if err != nil {
		m.record(ctx, sessionID, actor, "set_muted", target, err)
		return err
	}
	defer release()

	err = m.setMuted(ctx, ls, actor, target, muted)
	m.record(ctx, sessionID, actor, "set_muted", target, err)
	return err
}

func (m *Manager) setMuted(ctx context.Context, ls *liveSession, actor, target string, muted bool) error {
	if actor != target {
		if !muted {
			return ErrSelfOnly
		}
		if err := m.requirePrivileged(ls, actor); err != nil {
			return err
		}
	}
	ps, err := m.presentParticipant(ls, target)
	if err != nil {
		return err
	}
	if ps.p.IsMuted == muted {
		return nil
	}
	ps.p.IsMuted = muted
	m.persistParticipant(ctx, ps)
	reason := "unmuted"
	if muted {
		reason = "muted"
	}
	m.publishParticipant(ls, ps, reason)
	return nil
}

func (m *Manager) RaiseHand(ctx context.Context, sessionID, participantID string) error {
	ls, release, err := m.lockSession(ctx, sessionID)
	if err != nil {
		m.record(ctx, sessionID, participantID, "raise_hand", participantID, err)
		return err
	}
	defer release()

	ps, err := m.presentParticipant(ls, participantID)
	if err == nil && !ps.p.HandRaised {
		now := m.clock.Now()
		ps.p.HandRaised = true
		ps.p.HandRaisedAt = &now
		m.persistParticipant(ctx, ps)
		m.publishParticipant(ls, ps, "hand_raised")
	}
	m.record(ctx, sessionID, participantID, "raise_hand", participantID, err)
	return err
}

// LowerHand is allowed for the participant and for host or moderators.
func (m *Manager) LowerHand(ctx context.Context, sessionID, actor, target string) error {
	ls, release, err := m.lockSession(ctx, sessionID)
	if err != nil {
		m.record(ctx, sessionID, actor, "lower_hand", target, err)
		return err
	}
	defer release()

	err = m.lowerHand(ctx, ls, actor, target)
	m.record(ctx, sessionID, actor, "lower_hand", target, err)
	return err
}

func (m *Manager) lowerHand(ctx context.Context, ls *liveSession, actor, target string) error {
	if actor != target {
		if err := m.requirePrivileged(ls, actor); err != nil {
			return err
		}
	}
	ps, err := m.presentParticipant(ls, target)
	if err != nil {
		return err
	}
	if !ps.p.HandRaised {
		return nil
	}
	ps.p.HandRaised = false
	ps.p.HandRaisedAt = nil
	m.persistParticipant(ctx, ps)
	m.publishParticipant(ls, ps, "hand_lowered")
	return nil
}

// React attaches an ephemeral reaction to the participant. Reactions expire
// through Sweep.
func (m *Manager) React(ctx context.Context, sessionID, participantID, emoji string) (repository.Reaction, error) {
	ls, release, err := m.lockSession(ctx, sessionID)
	if err != nil {
		m.record(ctx, sessionID, participantID, "react", participantID, err)
		return repository.Reaction{}, err
	}
	defer release()

	r, err := m.react(ls, participantID, emoji)
	m.record(ctx, sessionID, participantID, "react", participantID, err)
	return r, err
}

func (m *Manager) react(ls *liveSession, participantID, emoji string) (repository.Reaction, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiRunes {
		return repository.Reaction{}, apperr.New(apperr.KindValidation, "reaction must be a single emoji")
	}
	ps, err := m.presentParticipant(ls, participantID)
	if err != nil {
		return repository.Reaction{}, err
	}
	if !ls.session.Status.IsOpen() {
		return repository.Reaction{}, ErrNotYetOpen
	}

	ttl := m.cfg.ReactionTTL()
	if ttl <= 0 {
		ttl = defaultReactionTTL
	}
	r := repository.Reaction{Emoji: emoji, ExpiresAt: m.clock.Now().Add(ttl)}
	ps.p.Reactions = append(ps.p.Reactions, r)
	if len(ps.p.Reactions) > maxActiveReactions {
		ps.p.Reactions = ps.p.Reactions[len(ps.p.Reactions)-maxActiveReactions:]
	}
	m.publish(ls.session.ID, fanout.EventReactionAdded, fanout.LaneNormal, ReactionPayload{
		ParticipantID: participantID,
		RoomID:        ps.p.RoomID,
		Emoji:         emoji,
		ExpiresAt:     r.ExpiresAt,
	})
	return r, nil
}

func (m *Manager) publishParticipant(ls *liveSession, ps *participantState, reason string) {
	m.publish(ls.session.ID, fanout.EventParticipantUpdated, fanout.LaneNormal, ParticipantPayload{
		Participant: m.participantSnapshot(ps),
		Reason:      reason,
	})
}

func (m *Manager) presentState(sessionID, participantID string) (*participantState, bool) {
	v, ok := m.presence.Load(presenceKey{sessionID: sessionID, participantID: participantID})
	if !ok {
		return nil, false
	}
	return v.(*participantState), true
}

// UpdateAudioTelemetry records the audio level and connection status of a
// participant. It never takes the session lock; the last write wins. Events
// are only published when the connection status or speaking state flips.
func (m *Manager) UpdateAudioTelemetry(sessionID, participantID string, level int, status repository.ConnectionStatus) error {
	if level < 0 || level > 100 {
		return apperr.New(apperr.KindValidation, "audio level must be between 0 and 100")
	}
	switch status {
	case "", repository.ConnectionConnecting, repository.ConnectionConnected, repository.ConnectionDisconnected:
	default:
		return apperr.New(apperr.KindValidation, "unknown connection status")
	}
	ps, ok := m.presentState(sessionID, participantID)
	if !ok {
		return ErrParticipantNotFound
	}
	old, next := m.swapTelemetry(ps, func(t *telemetry) {
		t.AudioLevel = level
		if status != "" {
			t.ConnectionStatus = status
		}
	})
	if old.ConnectionStatus != next.ConnectionStatus || (old.AudioLevel >= speakingLevel) != (next.AudioLevel >= speakingLevel) {
		m.publishTelemetry(sessionID, participantID, next)
	}
	return nil
}

// ReportNetworkSample feeds transport metrics into the quality monitor.
func (m *Manager) ReportNetworkSample(sessionID, participantID string, s quality.Sample) (quality.Quality, error) {
	if _, ok := m.presentState(sessionID, participantID); !ok {
		return "", ErrParticipantNotFound
	}
	for _, v := range []float64{s.PacketLossPct, s.RTTMillis, s.JitterMillis} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return "", apperr.New(apperr.KindValidation, "network metrics must be finite and not negative")
		}
	}
	// staleness is judged on arrival time, never on a client clock
	s.At = m.clock.Now()
	return m.monitor.Observe(sessionID, participantID, s), nil
}

// QualityChanged is called by the quality monitor.
func (m *Manager) QualityChanged(sessionID, participantID string, q quality.Quality) {
	ps, ok := m.presentState(sessionID, participantID)
	if !ok {
		return
	}
	_, next := m.swapTelemetry(ps, func(t *telemetry) {
		t.Quality = string(q)
		switch {
		case q == quality.Disconnected:
			t.ConnectionStatus = repository.ConnectionDisconnected
		case t.ConnectionStatus != repository.ConnectionConnected:
			t.ConnectionStatus = repository.ConnectionConnected
		}
	})
	m.publishTelemetry(sessionID, participantID, next)
}

func (m *Manager) swapTelemetry(ps *participantState, mutate func(t *telemetry)) (telemetry, telemetry) {
	for {
		cur := ps.telemetry.Load()
		var old telemetry
		if cur != nil {
			old = *cur
		}
		next := old
		mutate(&next)
		if ps.telemetry.CompareAndSwap(cur, &next) {
			return old, next
		}
	}
}

func (m *Manager) publishTelemetry(sessionID, participantID string, t telemetry) {
	m.publish(sessionID, fanout.EventParticipantTelemetry, fanout.LaneNormal, TelemetryPayload{
		ParticipantID:    participantID,
		AudioLevel:       t.AudioLevel,
		Speaking:         t.AudioLevel >= speakingLevel,
		ConnectionStatus: t.ConnectionStatus,
		Quality:          t.Quality,
	})
}

// Sweep expires reactions and hand raises past their TTL, marks silent
// connections as disconnected and drops ended sessions from memory once they
// are past retention.
func (m *Manager) Sweep(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		ls, release, err := m.lockSession(ctx, id)
		if err != nil {
			slog.Warn("sweep skipped session", "session_id", id, "error", err)
			continue
		}
		m.sweepLocked(ctx, ls)
		release()
	}
	m.monitor.Sweep(m.clock.Now())
}

func (m *Manager) sweepLocked(ctx context.Context, ls *liveSession) {
	now := m.clock.Now()
	s := ls.session
	if s.Status == repository.SessionStatusEnded {
		if s.EndedAt != nil && now.Sub(*s.EndedAt) >= endedRetention {
			m.evictLocked(ls)
		}
		return
	}

	handTTL := m.cfg.HandRaiseTTL()
	for _, ps := range ls.participants {
		if !ps.p.Present() {
			continue
		}
		kept := ps.p.Reactions[:0]
		for _, r := range ps.p.Reactions {
			if now.Before(r.ExpiresAt) {
				kept = append(kept, r)
				continue
			}
			m.publish(s.ID, fanout.EventReactionExpired, fanout.LaneNormal, ReactionPayload{
				ParticipantID: ps.p.ID,
				RoomID:        ps.p.RoomID,
				Emoji:         r.Emoji,
				ExpiresAt:     r.ExpiresAt,
			})
		}
		if len(kept) == 0 {
			kept = nil
		}
		ps.p.Reactions = kept

		if ps.p.HandRaised && handTTL > 0 && ps.p.HandRaisedAt != nil && !now.Before(ps.p.HandRaisedAt.Add(handTTL)) {
			ps.p.HandRaised = false
			ps.p.HandRaisedAt = nil
			m.persistParticipant(ctx, ps)
			m.publishParticipant(ls, ps, lowerReasonExpired)
		}
	}
}

func (m *Manager) evictLocked(ls *liveSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, ls.session.ID)
	for roomID := range ls.rooms {
		delete(m.rooms, roomID)
	}
	m.hub.Forget(ls.session.ID)
	slog.Debug("ended session evicted from memory", "session_id", ls.session.ID)
}
