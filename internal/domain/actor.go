package domain

import (
	"fmt"
	"time"
)

// ActorType discriminates the three kinds of local federated identities.
// Dispatch on it with an exhaustive switch; there is no fourth kind.
type ActorType string

const (
	ActorInstance ActorType = "instance"
	ActorUser     ActorType = "user"
	ActorGroup    ActorType = "group"
)

// ActivityPubType maps an ActorType to the vocabulary type used in actor
// documents.
func (t ActorType) ActivityPubType() string {
	switch t {
	case ActorInstance:
		return "Application"
	case ActorUser:
		return "Person"
	case ActorGroup:
		return "Group"
	}
	return ""
}

// Actor is one local federated identity: the instance itself, a user, or a
// group. Exactly one row exists per (type, username); URIs are deterministic
// functions of type, username and the configured domain.
type Actor struct {
	ID                int64
	Type              ActorType
	Username          string
	PreferredUsername string
	// EntityID references the owning local user or group record. Zero and
	// invalid for the instance actor.
	EntityID     int64
	HasEntity    bool
	ActorURI     string
	InboxURI     string
	OutboxURI    string
	FollowersURI string
	Active       bool
	CreatedAt    time.Time
}

func (a *Actor) IsInstance() bool { return a.Type == ActorInstance }
func (a *Actor) IsUser() bool     { return a.Type == ActorUser }
func (a *Actor) IsGroup() bool    { return a.Type == ActorGroup }

// Handle returns the human-readable federated handle: @name@domain for users
// and the instance, !name@domain for groups.
func (a *Actor) Handle(domain string) string {
	switch a.Type {
	case ActorGroup:
		return fmt.Sprintf("!%s@%s", a.Username, domain)
	default:
		return fmt.Sprintf("@%s@%s", a.Username, domain)
	}
}

// WebfingerResource returns the acct: resource this actor answers to.
// Groups keep their bang prefix; users and the instance drop the leading @.
func (a *Actor) WebfingerResource(domain string) string {
	switch a.Type {
	case ActorGroup:
		return fmt.Sprintf("acct:!%s@%s", a.Username, domain)
	default:
		return fmt.Sprintf("acct:%s@%s", a.Username, domain)
	}
}

// ActorKey is the single RSA keypair owned by an actor. Generated lazily on
// first need and never rotated.
type ActorKey struct {
	ID         int64
	ActorID    int64
	KeyID      string
	PublicKey  string
	PrivateKey string
	CreatedAt  time.Time
}
