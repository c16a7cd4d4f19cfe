// Package actors is the canonical identity layer: it creates and looks up
// the local federated actors (the instance, users, groups) and their keys.
package actors

import (
	"context"
	"errors"
	"net/url"

	"codeberg.org/gruf/go-mutexes"
	"github.com/atolldev/atoll/internal/config"
	"github.com/atolldev/atoll/internal/db"
	"github.com/atolldev/atoll/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry resolves local actors idempotently. Concurrent find-or-create
// calls for the same identity resolve to the same row: a per-name lock keeps
// the common path single-flight, and the unique constraint on
// (actor_type, username) settles any race that slips through.
type Registry struct {
	db     db.DB
	Config config.Configuration
	locks  *mutexes.MutexMap
}

func NewRegistry(d db.DB, cfg config.Configuration) *Registry {
	locks := mutexes.MutexMap{}
	return &Registry{
		db:     d,
		Config: cfg,
		locks:  &locks,
	}
}

// FindOrCreateInstanceActor resolves the single instance-level actor,
// creating it on first call (typically at boot).
func (r *Registry) FindOrCreateInstanceActor(ctx context.Context) (domain.Actor, error) {
	return r.findOrCreate(ctx, domain.ActorInstance, r.Config.InstanceUsername, 0, false)
}

// FindOrCreateForUser resolves the actor federating for a local user.
func (r *Registry) FindOrCreateForUser(ctx context.Context, userID int64, username string) (domain.Actor, error) {
	return r.findOrCreate(ctx, domain.ActorUser, username, userID, true)
}

// FindOrCreateForSub resolves the actor federating for a sub-community.
func (r *Registry) FindOrCreateForSub(ctx context.Context, subID int64, name string) (domain.Actor, error) {
	return r.findOrCreate(ctx, domain.ActorGroup, name, subID, true)
}

func (r *Registry) FindByUsername(ctx context.Context, username string, t domain.ActorType) (domain.Actor, error) {
	return r.db.GetActorByUsername(ctx, username, t)
}

func (r *Registry) findOrCreate(ctx context.Context, t domain.ActorType, username string, entityID int64, hasEntity bool) (domain.Actor, error) {
	unlock := r.locks.Lock(string(t) + "/" + username)
	defer unlock()

	actor, err := r.db.GetActorByUsername(ctx, username, t)
	if err == nil {
		return actor, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return domain.Actor{}, err
	}

	actor, err = r.db.CreateActor(ctx, r.build(t, username, entityID, hasEntity))
	if errors.Is(err, db.ErrConflict) {
		// Another request won the insert; its row is the canonical one.
		return r.db.GetActorByUsername(ctx, username, t)
	}
	if err == nil {
		log.Info().Str("type", string(t)).Str("username", username).Msg("created actor")
	}
	return actor, err
}

// build derives the actor row, including its URIs, from type + username +
// the configured domain. URIs exist nowhere else as free text.
func (r *Registry) build(t domain.ActorType, username string, entityID int64, hasEntity bool) domain.Actor {
	base := r.Config.Url.JoinPath("activitypub")

	if t == domain.ActorInstance {
		// The instance keeps the legacy single-actor inbox at
		// /activitypub/inbox.
		root := base.JoinPath("actor")
		return domain.Actor{
			Type:              t,
			Username:          username,
			PreferredUsername: username,
			ActorURI:          root.String(),
			InboxURI:          base.JoinPath("inbox").String(),
			OutboxURI:         base.JoinPath("outbox").String(),
			FollowersURI:      root.JoinPath("followers").String(),
			Active:            true,
		}
	}

	var root *url.URL
	switch t {
	case domain.ActorUser:
		root = base.JoinPath("users", username)
	case domain.ActorGroup:
		root = base.JoinPath("groups", username)
	}

	return domain.Actor{
		Type:              t,
		Username:          username,
		PreferredUsername: username,
		EntityID:          entityID,
		HasEntity:         hasEntity,
		ActorURI:          root.String(),
		InboxURI:          root.JoinPath("inbox").String(),
		OutboxURI:         root.JoinPath("outbox").String(),
		FollowersURI:      root.JoinPath("followers").String(),
		Active:            true,
	}
}
