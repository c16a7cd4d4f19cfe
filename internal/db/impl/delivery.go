package impl

import (
	"context"
	"database/sql"
	"time"

	"github.com/atolldev/atoll/internal/db"
	"github.com/atolldev/atoll/internal/domain"
)

func (d *dbImpl) AppendDeliveryLog(ctx context.Context, e domain.DeliveryLogEntry) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO delivery_log (
			actor_id, inbox_url, instance, activity_type, success,
			http_status, error_message, attempt_count, created_at
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ActorID, e.InboxURL, e.Instance, e.ActivityType, boolToInt(e.Success),
		sql.NullInt64{Valid: e.HTTPStatus != 0, Int64: int64(e.HTTPStatus)},
		sql.NullString{Valid: e.ErrorMessage != "", String: e.ErrorMessage},
		e.AttemptCount, e.CreatedAt.Unix(),
	)
	return d.handleError(err)
}

func (d *dbImpl) DeliveryStatsSince(ctx context.Context, since time.Time) (db.DeliveryStats, error) {
	var s db.DeliveryStats
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0)
		FROM delivery_log WHERE created_at >= ?`,
		since.Unix(),
	).Scan(&s.Total, &s.Success, &s.Failed)
	return s, d.handleError(err)
}

func (d *dbImpl) DeliveryFailuresByInstance(ctx context.Context, since time.Time) ([]db.InstanceFailures, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT instance, COUNT(*) AS failures
		FROM delivery_log
		WHERE success = 0 AND created_at >= ?
		GROUP BY instance ORDER BY failures DESC`,
		since.Unix(),
	)
	if err != nil {
		return nil, d.handleError(err)
	}
	defer rows.Close()

	var out []db.InstanceFailures
	for rows.Next() {
		var f db.InstanceFailures
		if err = rows.Scan(&f.Instance, &f.Failures); err != nil {
			return nil, d.handleError(err)
		}
		out = append(out, f)
	}
	return out, d.handleError(rows.Err())
}

func (d *dbImpl) RecentDeliveryFailures(ctx context.Context, limit int) ([]domain.DeliveryLogEntry, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, actor_id, inbox_url, instance, activity_type, success,
			http_status, error_message, attempt_count, created_at
		FROM delivery_log WHERE success = 0
		ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, d.handleError(err)
	}
	defer rows.Close()

	var out []domain.DeliveryLogEntry
	for rows.Next() {
		var e domain.DeliveryLogEntry
		var success, created int64
		var status sql.NullInt64
		var msg sql.NullString
		err = rows.Scan(&e.ID, &e.ActorID, &e.InboxURL, &e.Instance,
			&e.ActivityType, &success, &status, &msg, &e.AttemptCount, &created)
		if err != nil {
			return nil, d.handleError(err)
		}
		e.Success = success != 0
		e.HTTPStatus = int(status.Int64)
		e.ErrorMessage = msg.String
		e.CreatedAt = time.Unix(created, 0)
		out = append(out, e)
	}
	return out, d.handleError(rows.Err())
}
