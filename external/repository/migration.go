package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`DO $$ BEGIN CREATE TYPE sanctuary_status AS ENUM ('scheduled', 'waiting', 'live', 'active', 'ended'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS sanctuary_sessions (
		id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		access_type TEXT NOT NULL,
		status sanctuary_status NOT NULL,
		scheduled_at TIMESTAMPTZ,
		duration_minutes INTEGER NOT NULL,
		max_participants INTEGER NOT NULL,
		host_id TEXT NOT NULL,
		features JSONB NOT NULL DEFAULT '{}'::JSONB,
		invitees TEXT[] NOT NULL DEFAULT '{}',
		channel_id TEXT NOT NULL DEFAULT '',
		channel_name TEXT NOT NULL DEFAULT '',
		monitoring_degraded BOOLEAN NOT NULL DEFAULT FALSE,
		started_at TIMESTAMPTZ,
		ended_at TIMESTAMPTZ,
		end_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sanctuary_sessions_status ON sanctuary_sessions (status)`,
	`CREATE TABLE IF NOT EXISTS sanctuary_participants (
		session_id TEXT NOT NULL REFERENCES sanctuary_sessions(id) ON DELETE CASCADE,
		id TEXT NOT NULL,
		alias TEXT NOT NULL,
		role TEXT NOT NULL,
		is_muted BOOLEAN NOT NULL DEFAULT FALSE,
		hand_raised BOOLEAN NOT NULL DEFAULT FALSE,
		connection_status TEXT NOT NULL,
		room_id TEXT NOT NULL DEFAULT '',
		admission_seq BIGINT NOT NULL,
		joined_at TIMESTAMPTZ NOT NULL,
		left_at TIMESTAMPTZ,
		leave_reason TEXT NOT NULL DEFAULT '',
		media_token TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (session_id, id)
	)`,
	`ALTER TABLE sanctuary_participants ADD COLUMN IF NOT EXISTS media_token TEXT NOT NULL DEFAULT ''`,
	`CREATE TABLE IF NOT EXISTS sanctuary_rooms (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sanctuary_sessions(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		topic TEXT NOT NULL DEFAULT '',
		facilitator_id TEXT NOT NULL,
		max_participants INTEGER NOT NULL,
		status TEXT NOT NULL,
		members TEXT[] NOT NULL DEFAULT '{}',
		seq BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sanctuary_rooms_session ON sanctuary_rooms (session_id, seq)`,
	`CREATE TABLE IF NOT EXISTS sanctuary_alerts (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sanctuary_sessions(id) ON DELETE RESTRICT,
		category TEXT NOT NULL,
		severity TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		reporter_id TEXT NOT NULL DEFAULT '',
		confidence DOUBLE PRECISION NOT NULL,
		triggers TEXT[] NOT NULL DEFAULT '{}',
		status TEXT NOT NULL,
		action_required BOOLEAN NOT NULL DEFAULT FALSE,
		actions JSONB NOT NULL DEFAULT '[]'::JSONB,
		emergency_notified_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sanctuary_alerts_session ON sanctuary_alerts (session_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS sanctuary_audit_entries (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		target TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sanctuary_audit_session ON sanctuary_audit_entries (session_id, at)`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
