package domain

import "time"

// Follower records a remote actor following one of our local actors.
// Unique on (ActorID, FollowerURI).
type Follower struct {
	ID                  int64
	ActorID             int64
	FollowerURI         string
	FollowerInbox       string
	FollowerSharedInbox string
	FollowerUsername    string
	FollowerDomain      string
	FollowedAt          time.Time
}

// BlockType is the severity of an instance block. Full blocks reject inbound
// traffic entirely; silenced instances are still ingested and only lose
// outward visibility, which is handled outside this core.
type BlockType string

const (
	BlockFull    BlockType = "full"
	BlockSilence BlockType = "silence"
)

// BlockedInstance is a domain-level federation policy record. Unique on
// Domain; expired rows are deactivated lazily, never deleted.
type BlockedInstance struct {
	ID        int64
	Domain    string
	Type      BlockType
	Reason    string
	ExpiresAt *time.Time
	Active    bool
	CreatedAt time.Time
}

// Expired reports whether the block's expiry has passed at the given time.
// A row with no expiry never expires.
func (b *BlockedInstance) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && !b.ExpiresAt.After(now)
}

// DeliveryLogEntry is one outbound delivery attempt. Rows are append-only
// and consumed solely for aggregate statistics.
type DeliveryLogEntry struct {
	ID           int64
	ActorID      int64
	InboxURL     string
	Instance     string
	ActivityType string
	Success      bool
	HTTPStatus   int
	ErrorMessage string
	AttemptCount int
	CreatedAt    time.Time
}

// RemoteActorDocument is the subset of a fetched remote actor document this
// core consumes.
type RemoteActorDocument struct {
	ID                string
	Type              string
	PreferredUsername string
	Name              string
	Inbox             string
	SharedInbox       string
	PublicKeyPem      string
}
