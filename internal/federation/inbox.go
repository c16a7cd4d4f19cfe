// Package federation implements the inbound side of the ActivityPub
// protocol: decoding activities and applying them against local state.
package federation

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"

	"github.com/atolldev/atoll/internal/db"
	"github.com/atolldev/atoll/internal/domain"
	"github.com/atolldev/atoll/internal/followers"
	"github.com/atolldev/atoll/internal/metrics"
	"github.com/rs/zerolog/log"
)

// ActorFetcher dereferences remote actor documents. The production
// implementation is the SSRF-guarded client.
type ActorFetcher interface {
	FetchActor(ctx context.Context, actorURI string) (domain.RemoteActorDocument, error)
}

// AcceptSender queues an Accept for a just-created follow. Delivery
// mechanics live in the delivery package.
type AcceptSender interface {
	SendAccept(ctx context.Context, local domain.Actor, followRaw json.RawMessage, inbox string) error
}

// Dispatcher is the protocol state machine. Every activity ends in exactly
// one of two terminal states, applied or ignored; handlers either perform
// their full effect or touch nothing.
type Dispatcher struct {
	db        db.DB
	followers *followers.Store
	fetcher   ActorFetcher
	accepts   AcceptSender
}

func NewDispatcher(d db.DB, f *followers.Store, fetcher ActorFetcher, accepts AcceptSender) *Dispatcher {
	return &Dispatcher{
		db:        d,
		followers: f,
		fetcher:   fetcher,
		accepts:   accepts,
	}
}

// Process applies one inbound activity addressed to the target actor.
// The returned flag is internal bookkeeping: the HTTP layer answers 202
// either way so remote probes learn nothing from ignored activities.
func (d *Dispatcher) Process(ctx context.Context, target domain.Actor, raw []byte) bool {
	activity, ok := Decode(raw)
	if !ok {
		log.Debug().Msg("inbox: malformed activity body")
		return false
	}

	applied := d.dispatch(ctx, target, activity)
	metrics.ObserveActivity(activity.Kind().String(), applied)
	return applied
}

func (d *Dispatcher) dispatch(ctx context.Context, target domain.Actor, activity Activity) bool {
	switch activity.Kind() {
	case KindFollow:
		return d.handleFollow(ctx, target, activity)
	case KindUndo:
		return d.handleUndo(ctx, target, activity)
	case KindDelete:
		return d.handleDelete(ctx, activity)
	case KindLike:
		return d.handleLike(ctx, activity)
	case KindAnnounce:
		return d.handleAnnounce(ctx, activity)
	case KindCreate:
		return d.handleCreate(ctx, activity)
	case KindUnknown:
		log.Debug().Str("type", activity.Type).Msg("inbox: unrecognized activity type")
	}
	return false
}

func (d *Dispatcher) handleFollow(ctx context.Context, target domain.Actor, activity Activity) bool {
	if activity.Actor == "" {
		return false
	}

	// The follow object must name a local actor we know about. The inbox the
	// request arrived on is not trusted to identify the followee.
	objectURI := activity.ObjectURI()
	if objectURI == "" {
		return false
	}
	local, err := d.db.GetActorByURI(ctx, objectURI)
	if err != nil || !local.Active {
		log.Debug().Str("object", objectURI).Msg("inbox: follow target is not a local actor")
		return false
	}

	doc, err := d.fetcher.FetchActor(ctx, activity.Actor)
	if err != nil {
		log.Debug().Err(err).Str("actor", activity.Actor).Msg("inbox: remote actor fetch failed")
		return false
	}

	if err = d.followers.CreateFromRemoteActor(ctx, local, activity.Actor, doc); err != nil {
		log.Error().Err(err).Msg("inbox: follower insert failed")
		return false
	}

	if d.accepts != nil {
		raw, _ := json.Marshal(activity)
		if err = d.accepts.SendAccept(ctx, local, raw, doc.Inbox); err != nil {
			log.Error().Err(err).Msg("inbox: accept enqueue failed")
		}
	}

	log.Info().Str("follower", activity.Actor).Str("actor", local.Username).Msg("inbox: accepted follow")
	return true
}

func (d *Dispatcher) handleUndo(ctx context.Context, target domain.Actor, activity Activity) bool {
	if activity.Actor == "" {
		return false
	}

	nested, ok := activity.NestedActivity()
	if !ok {
		// A bare URI cannot tell us what is being undone.
		return false
	}

	switch nested.Kind() {
	case KindFollow:
		if nested.Actor == "" {
			return false
		}
		// The undone follow names the followee, which is not necessarily
		// the actor whose inbox the undo arrived on.
		local := target
		if uri := nested.ObjectURI(); uri != "" {
			if resolved, err := d.db.GetActorByURI(ctx, uri); err == nil {
				local = resolved
			}
		}
		removed, err := d.followers.DeleteForActor(ctx, local, nested.Actor)
		if err != nil {
			log.Error().Err(err).Msg("inbox: undo follow failed")
			return false
		}
		return removed

	case KindLike:
		return d.undoCounter(ctx, nested, db.CounterLikes)
	case KindAnnounce:
		return d.undoCounter(ctx, nested, db.CounterShares)
	}
	return false
}

func (d *Dispatcher) undoCounter(ctx context.Context, nested Activity, counter db.PostCounter) bool {
	post, ok := d.resolvePost(ctx, nested.ObjectURI())
	if !ok {
		return false
	}

	lowered, err := d.db.DecrementPostCounter(ctx, post.ID, counter)
	if err != nil {
		log.Error().Err(err).Msg("inbox: counter decrement failed")
		return false
	}
	// lowered is false when the counter was already zero; the floor holds
	// and the activity is ignored.
	return lowered
}

func (d *Dispatcher) handleDelete(ctx context.Context, activity Activity) bool {
	if activity.Actor == "" {
		return false
	}

	// Remote account deletion implies unfollow everywhere.
	removed, err := d.followers.RemoveAllForRemote(ctx, activity.Actor)
	if err != nil {
		log.Error().Err(err).Msg("inbox: delete cleanup failed")
		return false
	}
	log.Debug().Str("actor", activity.Actor).Int64("removed", removed).Msg("inbox: processed remote delete")
	return true
}

func (d *Dispatcher) handleLike(ctx context.Context, activity Activity) bool {
	return d.countEngagement(ctx, activity, db.CounterLikes)
}

func (d *Dispatcher) handleAnnounce(ctx context.Context, activity Activity) bool {
	return d.countEngagement(ctx, activity, db.CounterShares)
}

func (d *Dispatcher) countEngagement(ctx context.Context, activity Activity, counter db.PostCounter) bool {
	if activity.Actor == "" {
		return false
	}

	post, ok := d.resolvePost(ctx, activity.ObjectURI())
	if !ok {
		return false
	}

	if err := d.db.IncrementPostCounter(ctx, post.ID, counter); err != nil {
		log.Error().Err(err).Msg("inbox: counter increment failed")
		return false
	}
	return true
}

func (d *Dispatcher) handleCreate(ctx context.Context, activity Activity) bool {
	if activity.Actor == "" {
		return false
	}

	note, ok := activity.NoteObject()
	if !ok || note.Type != "Note" || note.InReplyTo == "" {
		return false
	}

	content := StripMarkup(note.Content)
	if content == "" {
		return false
	}

	post, ok := d.resolvePost(ctx, note.InReplyTo)
	if !ok {
		return false
	}

	author, err := d.resolveRemoteUser(ctx, activity.Actor)
	if err != nil {
		log.Debug().Err(err).Str("actor", activity.Actor).Msg("inbox: reply author unresolvable")
		return false
	}

	_, err = d.db.CreateReply(ctx, domain.Comment{
		PostID:         post.ID,
		RemoteUserID:   author.ID,
		ActivityPubURI: note.ID,
		Content:        content,
	})
	if err != nil {
		log.Error().Err(err).Msg("inbox: reply insert failed")
		return false
	}

	log.Info().Str("author", author.ActorURI).Int64("post", post.ID).Msg("inbox: created federated reply")
	return true
}

// resolvePost maps an object URI onto a known local post.
func (d *Dispatcher) resolvePost(ctx context.Context, uri string) (domain.Post, bool) {
	if uri == "" {
		return domain.Post{}, false
	}
	post, err := d.db.GetPostByFederationURI(ctx, uri)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			log.Error().Err(err).Str("uri", uri).Msg("inbox: post lookup failed")
		}
		return domain.Post{}, false
	}
	return post, true
}

// resolveRemoteUser returns the cached account for the sending actor,
// fetching and creating it on first contact.
func (d *Dispatcher) resolveRemoteUser(ctx context.Context, actorURI string) (domain.RemoteUser, error) {
	user, err := d.db.GetRemoteUserByURI(ctx, actorURI)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return domain.RemoteUser{}, err
	}

	doc, err := d.fetcher.FetchActor(ctx, actorURI)
	if err != nil {
		return domain.RemoteUser{}, err
	}

	host := ""
	if u, err := url.Parse(doc.ID); err == nil {
		host = u.Hostname()
	}

	user, err = d.db.CreateRemoteUser(ctx, domain.RemoteUser{
		ActorURI: doc.ID,
		Username: doc.PreferredUsername,
		Domain:   host,
		InboxURI: doc.Inbox,
	})
	if errors.Is(err, db.ErrConflict) {
		return d.db.GetRemoteUserByURI(ctx, actorURI)
	}
	return user, err
}
