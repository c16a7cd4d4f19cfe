package impl

import (
	"context"
	"database/sql"
	"time"

	"github.com/atolldev/atoll/internal/domain"
)

const actorColumns = `id, actor_type, username, preferred_username, entity_id,
	actor_uri, inbox_uri, outbox_uri, followers_uri, is_active, created_at`

func scanActor(row interface{ Scan(...any) error }) (domain.Actor, error) {
	var a domain.Actor
	var entity sql.NullInt64
	var active int64
	var created int64
	err := row.Scan(
		&a.ID, &a.Type, &a.Username, &a.PreferredUsername, &entity,
		&a.ActorURI, &a.InboxURI, &a.OutboxURI, &a.FollowersURI, &active, &created,
	)
	if err != nil {
		return domain.Actor{}, err
	}
	a.EntityID = entity.Int64
	a.HasEntity = entity.Valid
	a.Active = active != 0
	a.CreatedAt = time.Unix(created, 0)
	return a, nil
}

func (d *dbImpl) CreateActor(ctx context.Context, a domain.Actor) (domain.Actor, error) {
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO actors (
			actor_type, username, preferred_username, entity_id,
			actor_uri, inbox_uri, outbox_uri, followers_uri, is_active, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.Type, a.Username, a.PreferredUsername,
		sql.NullInt64{Valid: a.HasEntity, Int64: a.EntityID},
		a.ActorURI, a.InboxURI, a.OutboxURI, a.FollowersURI,
		boolToInt(a.Active), time.Now().Unix(),
	)
	if err != nil {
		return domain.Actor{}, d.handleError(err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return domain.Actor{}, d.handleError(err)
	}
	return d.GetActorByID(ctx, id)
}

func (d *dbImpl) GetActorByUsername(ctx context.Context, username string, t domain.ActorType) (domain.Actor, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+actorColumns+` FROM actors WHERE actor_type = ? AND username = ?`,
		t, username,
	)
	a, err := scanActor(row)
	return a, d.handleError(err)
}

func (d *dbImpl) GetActorByID(ctx context.Context, id int64) (domain.Actor, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+actorColumns+` FROM actors WHERE id = ?`, id)
	a, err := scanActor(row)
	return a, d.handleError(err)
}

func (d *dbImpl) GetActorByURI(ctx context.Context, uri string) (domain.Actor, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+actorColumns+` FROM actors WHERE actor_uri = ?`, uri)
	a, err := scanActor(row)
	return a, d.handleError(err)
}

func (d *dbImpl) DeactivateActor(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, `UPDATE actors SET is_active = 0 WHERE id = ?`, id)
	return d.handleError(err)
}

func (d *dbImpl) CreateActorKey(ctx context.Context, k domain.ActorKey) (domain.ActorKey, error) {
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO actor_keys (actor_id, key_id, public_key, private_key, created_at)
		VALUES (?,?,?,?,?)`,
		k.ActorID, k.KeyID, k.PublicKey, k.PrivateKey, time.Now().Unix(),
	)
	if err != nil {
		return domain.ActorKey{}, d.handleError(err)
	}
	k.ID, err = res.LastInsertId()
	return k, d.handleError(err)
}

func (d *dbImpl) GetActorKey(ctx context.Context, actorID int64) (domain.ActorKey, error) {
	var k domain.ActorKey
	var created int64
	err := d.db.QueryRowContext(ctx, `
		SELECT id, actor_id, key_id, public_key, private_key, created_at
		FROM actor_keys WHERE actor_id = ?`, actorID,
	).Scan(&k.ID, &k.ActorID, &k.KeyID, &k.PublicKey, &k.PrivateKey, &created)
	if err != nil {
		return domain.ActorKey{}, d.handleError(err)
	}
	k.CreatedAt = time.Unix(created, 0)
	return k, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
