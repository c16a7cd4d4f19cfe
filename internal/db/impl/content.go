package impl

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/atolldev/atoll/internal/db"
	"github.com/atolldev/atoll/internal/domain"
)

const postColumns = `id, title, activitypub_uri,
	federation_likes_count, federation_shares_count, federation_replies_count`

func scanPost(row interface{ Scan(...any) error }) (domain.Post, error) {
	var p domain.Post
	err := row.Scan(&p.ID, &p.Title, &p.ActivityPubURI,
		&p.FederationLikesCount, &p.FederationSharesCount, &p.FederationRepliesCount)
	return p, err
}

// counterColumn whitelists the column name before it is spliced into SQL.
func counterColumn(c db.PostCounter) (string, error) {
	switch c {
	case db.CounterLikes, db.CounterShares, db.CounterReplies:
		return string(c), nil
	}
	return "", fmt.Errorf("%w: unknown counter %q", db.ErrInternal, c)
}

func (d *dbImpl) GetPostByFederationURI(ctx context.Context, uri string) (domain.Post, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE activitypub_uri = ?`, uri)
	p, err := scanPost(row)
	return p, d.handleError(err)
}

func (d *dbImpl) IncrementPostCounter(ctx context.Context, postID int64, c db.PostCounter) error {
	col, err := counterColumn(c)
	if err != nil {
		return err
	}
	res, err := d.db.ExecContext(ctx,
		`UPDATE posts SET `+col+` = `+col+` + 1 WHERE id = ?`, postID)
	if err != nil {
		return d.handleError(err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return db.ErrNotFound
	}
	return d.handleError(err)
}

func (d *dbImpl) DecrementPostCounter(ctx context.Context, postID int64, c db.PostCounter) (bool, error) {
	col, err := counterColumn(c)
	if err != nil {
		return false, err
	}
	// The predicate keeps the counter floored at zero: a decrement that finds
	// nothing to decrement affects no rows.
	res, err := d.db.ExecContext(ctx,
		`UPDATE posts SET `+col+` = `+col+` - 1 WHERE id = ? AND `+col+` > 0`, postID)
	if err != nil {
		return false, d.handleError(err)
	}
	n, err := res.RowsAffected()
	return n > 0, d.handleError(err)
}

func (d *dbImpl) GetRemoteUserByURI(ctx context.Context, actorURI string) (domain.RemoteUser, error) {
	var u domain.RemoteUser
	var created int64
	err := d.db.QueryRowContext(ctx, `
		SELECT id, actor_uri, username, domain, inbox_uri, created_at
		FROM remote_users WHERE actor_uri = ?`, actorURI,
	).Scan(&u.ID, &u.ActorURI, &u.Username, &u.Domain, &u.InboxURI, &created)
	if err != nil {
		return domain.RemoteUser{}, d.handleError(err)
	}
	u.CreatedAt = time.Unix(created, 0)
	return u, nil
}

func (d *dbImpl) CreateRemoteUser(ctx context.Context, u domain.RemoteUser) (domain.RemoteUser, error) {
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO remote_users (actor_uri, username, domain, inbox_uri, created_at)
		VALUES (?,?,?,?,?)`,
		u.ActorURI, u.Username, u.Domain, u.InboxURI, time.Now().Unix(),
	)
	if err != nil {
		return domain.RemoteUser{}, d.handleError(err)
	}
	u.ID, err = res.LastInsertId()
	return u, d.handleError(err)
}

func (d *dbImpl) CreateReply(ctx context.Context, c domain.Comment) (domain.Comment, error) {
	err := d.withTx(func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO comments (post_id, remote_user_id, activitypub_uri, content, created_at)
			VALUES (?,?,?,?,?)`,
			c.PostID, c.RemoteUserID, c.ActivityPubURI, c.Content, time.Now().Unix(),
		)
		if err != nil {
			return err
		}
		c.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE posts SET federation_replies_count = federation_replies_count + 1
			WHERE id = ?`, c.PostID)
		return err
	})
	if err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

func (d *dbImpl) MostEngagedPosts(ctx context.Context, limit int) ([]domain.Post, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+postColumns+` FROM posts
		ORDER BY federation_likes_count + federation_shares_count + federation_replies_count DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, d.handleError(err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, d.handleError(err)
		}
		posts = append(posts, p)
	}
	return posts, d.handleError(rows.Err())
}
