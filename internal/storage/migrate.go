package storage

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS dongles (
		imei           TEXT PRIMARY KEY,
		dongle_id      TEXT NOT NULL,
		group_name     TEXT NOT NULL DEFAULT '',
		state          TEXT NOT NULL DEFAULT '',
		rssi_raw       TEXT NOT NULL DEFAULT '',
		mode           TEXT NOT NULL DEFAULT '',
		submode        TEXT NOT NULL DEFAULT '',
		provider       TEXT NOT NULL DEFAULT '',
		model          TEXT NOT NULL DEFAULT '',
		firmware       TEXT NOT NULL DEFAULT '',
		imsi           TEXT NOT NULL DEFAULT '',
		number         TEXT NOT NULL DEFAULT '',
		is_present     BOOLEAN NOT NULL DEFAULT TRUE,
		first_seen_at  TIMESTAMPTZ NOT NULL,
		last_seen_at   TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dongles_dongle_id ON dongles (dongle_id)`,
	`CREATE TABLE IF NOT EXISTS dongle_states (
		imei           TEXT PRIMARY KEY REFERENCES dongles (imei) ON DELETE CASCADE,
		dongle_id      TEXT NOT NULL,
		state_values   JSONB NOT NULL DEFAULT '{}',
		signal_dbm     INTEGER,
		signal_unit    TEXT NOT NULL DEFAULT '',
		signal_quality TEXT NOT NULL DEFAULT '',
		updated_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS event_logs (
		id          UUID PRIMARY KEY,
		created_at  TIMESTAMPTZ NOT NULL,
		imei        TEXT NOT NULL DEFAULT '',
		dongle_id   TEXT NOT NULL DEFAULT '',
		type        TEXT NOT NULL,
		level       TEXT NOT NULL,
		code        TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		details     JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_event_logs_imei_created ON event_logs (imei, created_at DESC)`,
}

// Migrate creates the tables if they do not exist
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.getDB().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	return nil
}
