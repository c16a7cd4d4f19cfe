package impl

import (
	"context"
	"database/sql"
	"time"

	"github.com/atolldev/atoll/internal/domain"
)

const blockColumns = `id, domain, block_type, reason, expires_at, is_active, created_at`

func scanBlock(row interface{ Scan(...any) error }) (domain.BlockedInstance, error) {
	var b domain.BlockedInstance
	var reason sql.NullString
	var expires sql.NullInt64
	var active, created int64
	err := row.Scan(&b.ID, &b.Domain, &b.Type, &reason, &expires, &active, &created)
	if err != nil {
		return domain.BlockedInstance{}, err
	}
	b.Reason = reason.String
	if expires.Valid {
		t := time.Unix(expires.Int64, 0)
		b.ExpiresAt = &t
	}
	b.Active = active != 0
	b.CreatedAt = time.Unix(created, 0)
	return b, nil
}

func (d *dbImpl) CreateBlockedInstance(ctx context.Context, b domain.BlockedInstance) (domain.BlockedInstance, error) {
	var expires sql.NullInt64
	if b.ExpiresAt != nil {
		expires = sql.NullInt64{Valid: true, Int64: b.ExpiresAt.Unix()}
	}
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO blocked_instances (domain, block_type, reason, expires_at, is_active, created_at)
		VALUES (?,?,?,?,?,?)`,
		b.Domain, b.Type,
		sql.NullString{Valid: b.Reason != "", String: b.Reason},
		expires, boolToInt(b.Active), time.Now().Unix(),
	)
	if err != nil {
		return domain.BlockedInstance{}, d.handleError(err)
	}
	b.ID, err = res.LastInsertId()
	return b, d.handleError(err)
}

func (d *dbImpl) GetBlockedInstance(ctx context.Context, dom string) (domain.BlockedInstance, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+blockColumns+` FROM blocked_instances WHERE domain = ?`, dom)
	b, err := scanBlock(row)
	return b, d.handleError(err)
}

func (d *dbImpl) ListBlockedInstances(ctx context.Context) ([]domain.BlockedInstance, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+blockColumns+` FROM blocked_instances ORDER BY domain`)
	if err != nil {
		return nil, d.handleError(err)
	}
	defer rows.Close()

	var blocks []domain.BlockedInstance
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, d.handleError(err)
		}
		blocks = append(blocks, b)
	}
	return blocks, d.handleError(rows.Err())
}

func (d *dbImpl) UpdateBlockedInstance(ctx context.Context, b domain.BlockedInstance) error {
	var expires sql.NullInt64
	if b.ExpiresAt != nil {
		expires = sql.NullInt64{Valid: true, Int64: b.ExpiresAt.Unix()}
	}
	res, err := d.db.ExecContext(ctx, `
		UPDATE blocked_instances
		SET block_type = ?, reason = ?, expires_at = ?, is_active = ?
		WHERE domain = ?`,
		b.Type, sql.NullString{Valid: b.Reason != "", String: b.Reason},
		expires, boolToInt(b.Active), b.Domain,
	)
	if err != nil {
		return d.handleError(err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return d.handleError(sql.ErrNoRows)
	}
	return d.handleError(err)
}

func (d *dbImpl) DeleteBlockedInstance(ctx context.Context, dom string) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM blocked_instances WHERE domain = ?`, dom)
	if err != nil {
		return false, d.handleError(err)
	}
	n, err := res.RowsAffected()
	return n > 0, d.handleError(err)
}

func (d *dbImpl) DeactivateExpiredBlocks(ctx context.Context, now time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE blocked_instances SET is_active = 0
		WHERE is_active = 1 AND expires_at IS NOT NULL AND expires_at <= ?`,
		now.Unix(),
	)
	if err != nil {
		return 0, d.handleError(err)
	}
	n, err := res.RowsAffected()
	return n, d.handleError(err)
}
