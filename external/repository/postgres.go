package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/foxseedlab/sanctuary/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.Repository {
	return &PostgresRepository{pool: pool}
}

const sessionColumns = `id, topic, description, access_type, status, scheduled_at, duration_minutes,
	max_participants, host_id, features, invitees, channel_id, channel_name, monitoring_degraded,
	started_at, ended_at, end_reason, created_at, updated_at`

func (r *PostgresRepository) SaveSession(ctx context.Context, s repository.Session) error {
	features, err := json.Marshal(s.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	invitees := s.Invitees
	if invitees == nil {
		invitees = []string{}
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO sanctuary_sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 ON CONFLICT (id) DO UPDATE SET
			topic = EXCLUDED.topic,
			description = EXCLUDED.description,
			access_type = EXCLUDED.access_type,
			status = EXCLUDED.status,
			scheduled_at = EXCLUDED.scheduled_at,
			duration_minutes = EXCLUDED.duration_minutes,
			max_participants = EXCLUDED.max_participants,
			features = EXCLUDED.features,
			invitees = EXCLUDED.invitees,
			channel_id = EXCLUDED.channel_id,
			channel_name = EXCLUDED.channel_name,
			monitoring_degraded = EXCLUDED.monitoring_degraded,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			end_reason = EXCLUDED.end_reason,
			updated_at = EXCLUDED.updated_at`,
		s.ID, s.Topic, s.Description, string(s.AccessType), string(s.Status), s.ScheduledAt, s.DurationMinutes,
		s.MaxParticipants, s.HostID, features, invitees, s.ChannelID, s.ChannelName, s.MonitoringDegraded,
		s.StartedAt, s.EndedAt, s.EndReason, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *PostgresRepository) GetSession(ctx context.Context, id string) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sanctuary_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepository) ListSessionsByStatus(ctx context.Context, statuses ...repository.SessionStatus) ([]repository.Session, error) {
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, string(st))
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sanctuary_sessions
		 WHERE status::TEXT = ANY($1) ORDER BY created_at ASC`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

func scanSession(row pgx.Row) (*repository.Session, error) {
	var (
		s                  repository.Session
		accessType, status string
		features           []byte
	)
	err := row.Scan(&s.ID, &s.Topic, &s.Description, &accessType, &status, &s.ScheduledAt, &s.DurationMinutes,
		&s.MaxParticipants, &s.HostID, &features, &s.Invitees, &s.ChannelID, &s.ChannelName, &s.MonitoringDegraded,
		&s.StartedAt, &s.EndedAt, &s.EndReason, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.AccessType = repository.AccessType(accessType)
	s.Status = repository.SessionStatus(status)
	if len(features) > 0 {
		if err := json.Unmarshal(features, &s.Features); err != nil {
			return nil, fmt.Errorf("unmarshal features: %w", err)
		}
	}
	return &s, nil
}

func (r *PostgresRepository) SaveParticipant(ctx context.Context, p repository.Participant) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sanctuary_participants
			(session_id, id, alias, role, is_muted, hand_raised, connection_status, room_id, admission_seq, joined_at, left_at, leave_reason, media_token)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (session_id, id) DO UPDATE SET
			alias = EXCLUDED.alias,
			role = EXCLUDED.role,
			is_muted = EXCLUDED.is_muted,
			hand_raised = EXCLUDED.hand_raised,
			connection_status = EXCLUDED.connection_status,
			room_id = EXCLUDED.room_id,
			joined_at = EXCLUDED.joined_at,
			left_at = EXCLUDED.left_at,
			leave_reason = EXCLUDED.leave_reason,
			media_token = EXCLUDED.media_token`,
		p.SessionID, p.ID, p.Alias, string(p.Role), p.IsMuted, p.HandRaised, string(p.ConnectionStatus), p.RoomID,
		p.AdmissionSeq, p.JoinedAt, p.LeftAt, p.LeaveReason, p.MediaToken)
	return err
}

func (r *PostgresRepository) ListParticipants(ctx context.Context, sessionID string) ([]repository.Participant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, id, alias, role, is_muted, hand_raised, connection_status, room_id, admission_seq, joined_at, left_at, leave_reason, media_token
		 FROM sanctuary_participants WHERE session_id = $1 ORDER BY admission_seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.Participant
	for rows.Next() {
		var p repository.Participant
		var role, conn string
		if err := rows.Scan(&p.SessionID, &p.ID, &p.Alias, &role, &p.IsMuted, &p.HandRaised, &conn, &p.RoomID,
			&p.AdmissionSeq, &p.JoinedAt, &p.LeftAt, &p.LeaveReason, &p.MediaToken); err != nil {
			return nil, err
		}
		p.Role = repository.Role(role)
		p.ConnectionStatus = repository.ConnectionStatus(conn)
		list = append(list, p)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) SaveRoom(ctx context.Context, room repository.BreakoutRoom) error {
	members := room.Members
	if members == nil {
		members = []string{}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sanctuary_rooms
			(id, session_id, name, topic, facilitator_id, max_participants, status, members, seq, created_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			topic = EXCLUDED.topic,
			facilitator_id = EXCLUDED.facilitator_id,
			max_participants = EXCLUDED.max_participants,
			status = EXCLUDED.status,
			members = EXCLUDED.members,
			ended_at = EXCLUDED.ended_at`,
		room.ID, room.SessionID, room.Name, room.Topic, room.FacilitatorID, room.MaxParticipants, string(room.Status),
		members, room.Seq, room.CreatedAt, room.EndedAt)
	return err
}

func (r *PostgresRepository) ListRooms(ctx context.Context, sessionID string) ([]repository.BreakoutRoom, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, name, topic, facilitator_id, max_participants, status, members, seq, created_at, ended_at
		 FROM sanctuary_rooms WHERE session_id = $1 ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.BreakoutRoom
	for rows.Next() {
		var room repository.BreakoutRoom
		var status string
		if err := rows.Scan(&room.ID, &room.SessionID, &room.Name, &room.Topic, &room.FacilitatorID, &room.MaxParticipants,
			&status, &room.Members, &room.Seq, &room.CreatedAt, &room.EndedAt); err != nil {
			return nil, err
		}
		room.Status = repository.RoomStatus(status)
		list = append(list, room)
	}
	return list, rows.Err()
}

const alertColumns = `id, session_id, category, severity, subject_id, reporter_id, confidence, triggers, status,
	action_required, actions, emergency_notified_at, created_at, updated_at`

func (r *PostgresRepository) SaveAlert(ctx context.Context, a repository.Alert) error {
	actions, err := json.Marshal(a.Actions)
	if err != nil {
		return fmt.Errorf("marshal alert actions: %w", err)
	}
	triggers := a.Triggers
	if triggers == nil {
		triggers = []string{}
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO sanctuary_alerts (`+alertColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (id) DO UPDATE SET
			severity = EXCLUDED.severity,
			status = EXCLUDED.status,
			actions = EXCLUDED.actions,
			emergency_notified_at = EXCLUDED.emergency_notified_at,
			updated_at = EXCLUDED.updated_at`,
		a.ID, a.SessionID, string(a.Category), string(a.Severity), a.SubjectID, a.ReporterID, a.Confidence, triggers,
		string(a.Status), a.ActionRequired, actions, a.EmergencyNotifiedAt, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r *PostgresRepository) GetAlert(ctx context.Context, id string) (*repository.Alert, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM sanctuary_alerts WHERE id = $1`, id)
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

func (r *PostgresRepository) ListAlerts(ctx context.Context, sessionID string) ([]repository.Alert, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+alertColumns+` FROM sanctuary_alerts WHERE session_id = $1 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *a)
	}
	return list, rows.Err()
}

func scanAlert(row pgx.Row) (*repository.Alert, error) {
	var (
		a                          repository.Alert
		category, severity, status string
		actions                    []byte
	)
	err := row.Scan(&a.ID, &a.SessionID, &category, &severity, &a.SubjectID, &a.ReporterID, &a.Confidence, &a.Triggers,
		&status, &a.ActionRequired, &actions, &a.EmergencyNotifiedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Category = repository.AlertCategory(category)
	a.Severity = repository.Severity(severity)
	a.Status = repository.AlertStatus(status)
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &a.Actions); err != nil {
			return nil, fmt.Errorf("unmarshal alert actions: %w", err)
		}
	}
	return &a, nil
}

func (r *PostgresRepository) InsertAuditEntry(ctx context.Context, e repository.AuditEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sanctuary_audit_entries (id, session_id, actor_id, operation, target, outcome, detail, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.SessionID, e.ActorID, e.Operation, e.Target, e.Outcome, e.Detail, e.At)
	return err
}
