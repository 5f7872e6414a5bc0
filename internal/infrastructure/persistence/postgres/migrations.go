package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies the embedded migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: GetMigrations(), tableName: "schema_migrations"}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, m.tableName))
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations and returns how many ran.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName),
				mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return ran, fmt.Errorf("%w: version %d: %w", ErrMigrationFailed, mig.Version, err)
		}
		ran++
	}
	return ran, nil
}

// Rollback reverts the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	last := 0
	for v := range applied {
		last = max(last, v)
	}
	if last == 0 {
		return nil
	}

	var mig *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			mig = &m.migrations[i]
		}
	}
	if mig == nil || mig.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last)
		return err
	})
}

// Status returns every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	for i := range out {
		if at, ok := applied[out[i].Version]; ok {
			out[i].IsApplied = true
			out[i].AppliedAt = at
		}
	}
	return out, nil
}

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_league", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_badges_and_partners", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_tracking", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: LEAGUE
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS league_members (
    user_id VARCHAR(64) PRIMARY KEY,
    display_name VARCHAR(100) NOT NULL DEFAULT '',
    public_name BOOLEAN NOT NULL DEFAULT FALSE,
    tier SMALLINT NOT NULL DEFAULT 1,
    last_promotion_date DATE,
    hqc_status BOOLEAN NOT NULL DEFAULT FALSE,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_tier CHECK (tier BETWEEN 1 AND 10)
);

-- Group and tier are written once at seating; rank once at close.
CREATE TABLE IF NOT EXISTS league_memberships (
    user_id VARCHAR(64) NOT NULL REFERENCES league_members(user_id),
    week_start DATE NOT NULL,
    tier SMALLINT NOT NULL,
    group_id VARCHAR(64) NOT NULL,
    rank_in_group INTEGER,

    PRIMARY KEY (user_id, week_start),
    CONSTRAINT valid_membership_tier CHECK (tier BETWEEN 1 AND 10),
    CONSTRAINT monday_start CHECK (EXTRACT(ISODOW FROM week_start) = 1)
);

CREATE INDEX IF NOT EXISTS idx_memberships_week_group ON league_memberships(week_start, group_id);

CREATE TABLE IF NOT EXISTS league_history (
    user_id VARCHAR(64) NOT NULL REFERENCES league_members(user_id),
    week_start DATE NOT NULL,
    prev_tier SMALLINT NOT NULL,
    new_tier SMALLINT NOT NULL,
    group_id VARCHAR(64) NOT NULL,
    rank_in_group INTEGER NOT NULL,
    honest_minutes INTEGER NOT NULL DEFAULT 0,
    movement VARCHAR(8) NOT NULL,
    hqc_status BOOLEAN,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, week_start),
    CONSTRAINT valid_movement CHECK (movement IN ('up', 'down', 'stay'))
);

CREATE INDEX IF NOT EXISTS idx_history_week ON league_history(week_start);
`

const migration001Down = `
DROP TABLE IF EXISTS league_history;
DROP TABLE IF EXISTS league_memberships;
DROP TABLE IF EXISTS league_members;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: BADGES AND PARTNERS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS badges (
    code VARCHAR(64) PRIMARY KEY,
    name VARCHAR(100) NOT NULL,
    description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS user_badges (
    user_id VARCHAR(64) NOT NULL,
    badge_code VARCHAR(64) NOT NULL REFERENCES badges(code),
    granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    reason JSONB NOT NULL DEFAULT '{}'::jsonb,

    PRIMARY KEY (user_id, badge_code)
);

CREATE TABLE IF NOT EXISTS accountability_relationships (
    owner_id VARCHAR(64) NOT NULL,
    partner_id VARCHAR(64) NOT NULL,
    status VARCHAR(10) NOT NULL,
    visibility JSONB NOT NULL DEFAULT '{}'::jsonb,
    invite_token_hash TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    PRIMARY KEY (owner_id, partner_id),
    CONSTRAINT valid_status CHECK (status IN ('pending', 'active', 'revoked')),
    CONSTRAINT no_self_partner CHECK (owner_id <> partner_id)
);
`

const migration002Down = `
DROP TABLE IF EXISTS accountability_relationships;
DROP TABLE IF EXISTS user_badges;
DROP TABLE IF EXISTS badges;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: TRACKING (read model)
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS focus_sessions (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    goal_id VARCHAR(64) NOT NULL DEFAULT '',
    start_time TIMESTAMPTZ NOT NULL,
    duration_minutes INTEGER NOT NULL,
    honest BOOLEAN NOT NULL DEFAULT FALSE,
    interruption_count INTEGER NOT NULL DEFAULT 0,

    CONSTRAINT valid_duration CHECK (duration_minutes >= 0),
    CONSTRAINT valid_interruptions CHECK (interruption_count >= 0)
);

CREATE INDEX IF NOT EXISTS idx_sessions_start ON focus_sessions(start_time);
CREATE INDEX IF NOT EXISTS idx_sessions_user_start ON focus_sessions(user_id, start_time);

CREATE TABLE IF NOT EXISTS goal_commitments (
    user_id VARCHAR(64) NOT NULL,
    goal_id VARCHAR(64) NOT NULL,
    weekly_hours_target DOUBLE PRECISION NOT NULL DEFAULT 0,
    is_core BOOLEAN NOT NULL DEFAULT FALSE,

    PRIMARY KEY (user_id, goal_id)
);
`

const migration003Down = `
DROP TABLE IF EXISTS goal_commitments;
DROP TABLE IF EXISTS focus_sessions;
`
