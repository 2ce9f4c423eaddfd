package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dongle-server/dongle-server/internal/models"
)

// ========== Dongle Methods ==========

const dongleColumns = `imei, dongle_id, group_name, state, rssi_raw, mode, submode,
               provider, model, firmware, imsi, number, is_present,
               first_seen_at, last_seen_at, updated_at`

// UpsertDongle inserts a dongle or refreshes an existing one. first_seen_at
// is kept from the original row.
func (s *PostgresStore) UpsertDongle(ctx context.Context, d *models.Dongle) error {
	if d.IMEI == "" {
		return fmt.Errorf("%w: empty imei", ErrInvalidData)
	}

	now := time.Now()
	if d.LastSeenAt.IsZero() {
		d.LastSeenAt = now
	}
	if d.FirstSeenAt.IsZero() {
		d.FirstSeenAt = d.LastSeenAt
	}
	d.UpdatedAt = now

	query := `
        INSERT INTO dongles (` + dongleColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
        ON CONFLICT (imei) DO UPDATE SET
            dongle_id = EXCLUDED.dongle_id,
            group_name = EXCLUDED.group_name,
            state = EXCLUDED.state,
            rssi_raw = EXCLUDED.rssi_raw,
            mode = EXCLUDED.mode,
            submode = EXCLUDED.submode,
            provider = EXCLUDED.provider,
            model = EXCLUDED.model,
            firmware = EXCLUDED.firmware,
            imsi = EXCLUDED.imsi,
            number = EXCLUDED.number,
            is_present = EXCLUDED.is_present,
            last_seen_at = EXCLUDED.last_seen_at,
            updated_at = EXCLUDED.updated_at
        RETURNING first_seen_at`

	err := s.getDB().QueryRowContext(ctx, query,
		d.IMEI, d.DongleID, d.Group, d.State, d.RSSIRaw, d.Mode, d.Submode,
		d.Provider, d.Model, d.Firmware, d.IMSI, d.Number, d.IsPresent,
		d.FirstSeenAt, d.LastSeenAt, d.UpdatedAt,
	).Scan(&d.FirstSeenAt)

	return translateError(err)
}

// GetDongle gets a dongle by IMEI together with its last state
func (s *PostgresStore) GetDongle(ctx context.Context, imei string) (*models.Dongle, error) {
	query := `SELECT ` + dongleColumns + ` FROM dongles WHERE imei = $1`

	d := &models.Dongle{}
	err := s.getDB().QueryRowContext(ctx, query, imei).Scan(dongleScanArgs(d)...)
	if err != nil {
		return nil, translateError(err)
	}

	state, err := s.GetDongleState(ctx, imei)
	switch {
	case err == nil:
		d.LastState = state
	case err != ErrNotFound:
		return nil, err
	}

	return d, nil
}

// ListDongles lists dongles ordered by dongle id
func (s *PostgresStore) ListDongles(ctx context.Context, filters DongleFilters, limit, offset int) ([]*models.Dongle, int64, error) {
	where, args := buildDongleWhere(filters)

	var count int64
	if err := s.getDB().QueryRowContext(ctx, "SELECT COUNT(*) FROM dongles"+where, args...).Scan(&count); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("SELECT %s FROM dongles%s ORDER BY dongle_id, imei LIMIT $%d OFFSET $%d",
		dongleColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var dongles []*models.Dongle
	for rows.Next() {
		d := &models.Dongle{}
		if err := rows.Scan(dongleScanArgs(d)...); err != nil {
			return nil, 0, err
		}
		dongles = append(dongles, d)
	}

	return dongles, count, rows.Err()
}

// MarkDongleAbsent flags a dongle as no longer reported by the manager
func (s *PostgresStore) MarkDongleAbsent(ctx context.Context, imei string, at time.Time) error {
	result, err := s.getDB().ExecContext(ctx,
		`UPDATE dongles SET is_present = false, updated_at = $2 WHERE imei = $1`, imei, at)
	if err != nil {
		return translateError(err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func buildDongleWhere(filters DongleFilters) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if filters.PresentOnly {
		conds = append(conds, "is_present = true")
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(imei ILIKE $%d OR dongle_id ILIKE $%d OR number ILIKE $%d OR provider ILIKE $%d)", n, n, n, n))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func dongleScanArgs(d *models.Dongle) []interface{} {
	return []interface{}{
		&d.IMEI, &d.DongleID, &d.Group, &d.State, &d.RSSIRaw, &d.Mode, &d.Submode,
		&d.Provider, &d.Model, &d.Firmware, &d.IMSI, &d.Number, &d.IsPresent,
		&d.FirstSeenAt, &d.LastSeenAt, &d.UpdatedAt,
	}
}

// ========== Dongle State Methods ==========

// SaveDongleState stores the latest state dump of a dongle
func (s *PostgresStore) SaveDongleState(ctx context.Context, st *models.DongleState) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}

	query := `
        INSERT INTO dongle_states (imei, dongle_id, state_values, signal_dbm, signal_unit, signal_quality, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (imei) DO UPDATE SET
            dongle_id = EXCLUDED.dongle_id,
            state_values = EXCLUDED.state_values,
            signal_dbm = EXCLUDED.signal_dbm,
            signal_unit = EXCLUDED.signal_unit,
            signal_quality = EXCLUDED.signal_quality,
            updated_at = EXCLUDED.updated_at`

	_, err := s.getDB().ExecContext(ctx, query,
		st.IMEI, st.DongleID, st.Values, st.SignalDBm, st.SignalUnit, st.SignalQuality, st.UpdatedAt,
	)
	return translateError(err)
}

// GetDongleState gets the latest state dump of a dongle
func (s *PostgresStore) GetDongleState(ctx context.Context, imei string) (*models.DongleState, error) {
	query := `
        SELECT imei, dongle_id, state_values, signal_dbm, signal_unit, signal_quality, updated_at
        FROM dongle_states
        WHERE imei = $1`

	st := &models.DongleState{}
	err := s.getDB().QueryRowContext(ctx, query, imei).Scan(
		&st.IMEI, &st.DongleID, &st.Values, &st.SignalDBm, &st.SignalUnit, &st.SignalQuality, &st.UpdatedAt,
	)
	if err != nil {
		return nil, translateError(err)
	}
	return st, nil
}
