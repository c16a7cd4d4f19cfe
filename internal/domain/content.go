package domain

import "time"

// Post is the narrow view of a local post this core touches: lookup by
// federation URI and the three federation counters. Everything else about
// posts belongs to the content service.
type Post struct {
	ID                    int64
	Title                 string
	ActivityPubURI        string
	FederationLikesCount  int64
	FederationSharesCount int64
	FederationRepliesCount int64
}

// RemoteUser is a cached account for a remote actor that authored content
// delivered to us, such as a federated reply.
type RemoteUser struct {
	ID        int64
	ActorURI  string
	Username  string
	Domain    string
	InboxURI  string
	CreatedAt time.Time
}

// Comment is a reply record created from an inbound Create(Note) activity,
// attributed to a RemoteUser.
type Comment struct {
	ID             int64
	PostID         int64
	RemoteUserID   int64
	ActivityPubURI string
	Content        string
	CreatedAt      time.Time
}
