// Package db defines the storage interface for the federation core and the
// sentinel errors its callers branch on.
package db

import (
	"context"
	"errors"
	"time"

	"github.com/atolldev/atoll/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrInternal = errors.New("internal storage error")
)

// PostCounter names one of the federation counters owned by post records.
// Values map to fixed column names; nothing else is accepted.
type PostCounter string

const (
	CounterLikes   PostCounter = "federation_likes_count"
	CounterShares  PostCounter = "federation_shares_count"
	CounterReplies PostCounter = "federation_replies_count"
)

// DeliveryStats is the aggregate over the delivery log used by the stats
// endpoints. SuccessRate is computed by the delivery package, not here.
type DeliveryStats struct {
	Total   int64
	Success int64
	Failed  int64
}

// InstanceFailures counts failed deliveries per remote instance.
type InstanceFailures struct {
	Instance string
	Failures int64
}

type Actors interface {
	// CreateActor inserts a new actor row. Returns ErrConflict when an actor
	// with the same (type, username) already exists.
	CreateActor(ctx context.Context, a domain.Actor) (domain.Actor, error)
	GetActorByUsername(ctx context.Context, username string, t domain.ActorType) (domain.Actor, error)
	GetActorByID(ctx context.Context, id int64) (domain.Actor, error)
	GetActorByURI(ctx context.Context, uri string) (domain.Actor, error)
	DeactivateActor(ctx context.Context, id int64) error

	// CreateActorKey inserts the actor's single keypair. ErrConflict when a
	// key already exists for the actor.
	CreateActorKey(ctx context.Context, k domain.ActorKey) (domain.ActorKey, error)
	GetActorKey(ctx context.Context, actorID int64) (domain.ActorKey, error)
}

type Followers interface {
	// CreateFollower inserts a follower row, returning ErrConflict when the
	// (actor, follower URI) pair already exists.
	CreateFollower(ctx context.Context, f domain.Follower) (domain.Follower, error)
	// DeleteFollower removes the matching row and reports whether one existed.
	DeleteFollower(ctx context.Context, actorID int64, followerURI string) (bool, error)
	// DeleteFollowersByURI removes every follow held by the given remote
	// actor, across all local actors. Used when a remote account is deleted.
	DeleteFollowersByURI(ctx context.Context, followerURI string) (int64, error)
	CountFollowers(ctx context.Context, actorID int64) (int64, error)
	ListFollowers(ctx context.Context, actorID int64) ([]domain.Follower, error)
}

type Blocklist interface {
	CreateBlockedInstance(ctx context.Context, b domain.BlockedInstance) (domain.BlockedInstance, error)
	GetBlockedInstance(ctx context.Context, dom string) (domain.BlockedInstance, error)
	ListBlockedInstances(ctx context.Context) ([]domain.BlockedInstance, error)
	UpdateBlockedInstance(ctx context.Context, b domain.BlockedInstance) error
	DeleteBlockedInstance(ctx context.Context, dom string) (bool, error)
	// DeactivateExpiredBlocks flips is_active off for rows whose expiry has
	// passed. Rows are never deleted automatically.
	DeactivateExpiredBlocks(ctx context.Context, now time.Time) (int64, error)
}

type DeliveryLog interface {
	AppendDeliveryLog(ctx context.Context, e domain.DeliveryLogEntry) error
	DeliveryStatsSince(ctx context.Context, since time.Time) (DeliveryStats, error)
	DeliveryFailuresByInstance(ctx context.Context, since time.Time) ([]InstanceFailures, error)
	RecentDeliveryFailures(ctx context.Context, limit int) ([]domain.DeliveryLogEntry, error)
}

type Content interface {
	GetPostByFederationURI(ctx context.Context, uri string) (domain.Post, error)
	IncrementPostCounter(ctx context.Context, postID int64, c PostCounter) error
	// DecrementPostCounter lowers the counter by one, floored at zero.
	// Reports false without touching the row when the counter is already zero.
	DecrementPostCounter(ctx context.Context, postID int64, c PostCounter) (bool, error)
	GetRemoteUserByURI(ctx context.Context, actorURI string) (domain.RemoteUser, error)
	CreateRemoteUser(ctx context.Context, u domain.RemoteUser) (domain.RemoteUser, error)
	// CreateReply inserts the comment and increments the post's reply counter
	// in one transaction.
	CreateReply(ctx context.Context, c domain.Comment) (domain.Comment, error)
	MostEngagedPosts(ctx context.Context, limit int) ([]domain.Post, error)
}

// DB is the full storage surface of the federation core.
type DB interface {
	Actors
	Followers
	Blocklist
	DeliveryLog
	Content
}
