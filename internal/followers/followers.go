// Package followers persists remote followers of local actors.
package followers

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/atolldev/atoll/internal/db"
	"github.com/atolldev/atoll/internal/domain"
	"github.com/rs/zerolog/log"
)

type Store struct {
	db db.DB
}

func NewStore(d db.DB) *Store {
	return &Store{db: d}
}

// CreateFromRemoteActor records the remote actor as a follower of the local
// actor, extracting inbox, shared inbox, username and domain from the
// fetched actor document. Idempotent: a second Follow for the same pair is
// absorbed by the unique constraint.
func (s *Store) CreateFromRemoteActor(ctx context.Context, local domain.Actor, followerURI string, doc domain.RemoteActorDocument) error {
	u, err := url.Parse(followerURI)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid follower URI %q", followerURI)
	}

	_, err = s.db.CreateFollower(ctx, domain.Follower{
		ActorID:             local.ID,
		FollowerURI:         followerURI,
		FollowerInbox:       doc.Inbox,
		FollowerSharedInbox: doc.SharedInbox,
		FollowerUsername:    doc.PreferredUsername,
		FollowerDomain:      u.Hostname(),
	})
	if errors.Is(err, db.ErrConflict) {
		log.Debug().Str("follower", followerURI).Int64("actor", local.ID).Msg("already following")
		return nil
	}
	return err
}

// DeleteForActor removes the follower row for (local actor, follower URI)
// and reports whether one existed. Absence is not an error; callers use the
// flag to decide the activity outcome.
func (s *Store) DeleteForActor(ctx context.Context, local domain.Actor, followerURI string) (bool, error) {
	return s.db.DeleteFollower(ctx, local.ID, followerURI)
}

// RemoveAllForRemote drops every follow held by the remote actor, across all
// local actors. Remote account deletion is treated as an implicit unfollow.
func (s *Store) RemoveAllForRemote(ctx context.Context, followerURI string) (int64, error) {
	return s.db.DeleteFollowersByURI(ctx, followerURI)
}

func (s *Store) Count(ctx context.Context, local domain.Actor) (int64, error) {
	return s.db.CountFollowers(ctx, local.ID)
}

func (s *Store) List(ctx context.Context, local domain.Actor) ([]domain.Follower, error) {
	return s.db.ListFollowers(ctx, local.ID)
}
