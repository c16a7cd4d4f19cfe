package impl

import (
	"context"
	"time"

	"github.com/atolldev/atoll/internal/domain"
)

func (d *dbImpl) CreateFollower(ctx context.Context, f domain.Follower) (domain.Follower, error) {
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO followers (
			actor_id, follower_uri, follower_inbox, follower_shared_inbox,
			follower_username, follower_domain, followed_at
		) VALUES (?,?,?,?,?,?,?)`,
		f.ActorID, f.FollowerURI, f.FollowerInbox, f.FollowerSharedInbox,
		f.FollowerUsername, f.FollowerDomain, time.Now().Unix(),
	)
	if err != nil {
		return domain.Follower{}, d.handleError(err)
	}
	f.ID, err = res.LastInsertId()
	return f, d.handleError(err)
}

func (d *dbImpl) DeleteFollower(ctx context.Context, actorID int64, followerURI string) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM followers WHERE actor_id = ? AND follower_uri = ?`,
		actorID, followerURI,
	)
	if err != nil {
		return false, d.handleError(err)
	}
	n, err := res.RowsAffected()
	return n > 0, d.handleError(err)
}

func (d *dbImpl) DeleteFollowersByURI(ctx context.Context, followerURI string) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM followers WHERE follower_uri = ?`, followerURI)
	if err != nil {
		return 0, d.handleError(err)
	}
	n, err := res.RowsAffected()
	return n, d.handleError(err)
}

func (d *dbImpl) CountFollowers(ctx context.Context, actorID int64) (int64, error) {
	var n int64
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM followers WHERE actor_id = ?`, actorID).Scan(&n)
	return n, d.handleError(err)
}

func (d *dbImpl) ListFollowers(ctx context.Context, actorID int64) ([]domain.Follower, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, actor_id, follower_uri, follower_inbox, follower_shared_inbox,
			follower_username, follower_domain, followed_at
		FROM followers WHERE actor_id = ? ORDER BY followed_at DESC`, actorID)
	if err != nil {
		return nil, d.handleError(err)
	}
	defer rows.Close()

	var followers []domain.Follower
	for rows.Next() {
		var f domain.Follower
		var followed int64
		err = rows.Scan(&f.ID, &f.ActorID, &f.FollowerURI, &f.FollowerInbox,
			&f.FollowerSharedInbox, &f.FollowerUsername, &f.FollowerDomain, &followed)
		if err != nil {
			return nil, d.handleError(err)
		}
		f.FollowedAt = time.Unix(followed, 0)
		followers = append(followers, f)
	}
	return followers, d.handleError(rows.Err())
}
