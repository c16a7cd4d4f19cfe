package web

import (
	"errors"
	"net/http"

	"github.com/atolldev/atoll/internal/db"
	"github.com/atolldev/atoll/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type publicKeyDocument struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

type actorDocument struct {
	Context           []string          `json:"@context"`
	ID                string            `json:"id"`
	Type              string            `json:"type"`
	PreferredUsername string            `json:"preferredUsername"`
	Name              string            `json:"name"`
	Inbox             string            `json:"inbox"`
	Outbox            string            `json:"outbox"`
	Followers         string            `json:"followers"`
	PublicKey         publicKeyDocument `json:"publicKey"`
}

// actorDoc serves the ActivityPub document for a local actor, generating
// its keypair on first request if it does not exist yet.
func (h *Handler) actorDoc(w http.ResponseWriter, r *http.Request, username string, t domain.ActorType) {
	ctx := r.Context()

	if !h.Config.FederationEnabled {
		http.Error(w, "", http.StatusNotFound)
		return
	}

	actor, err := h.registry.FindByUsername(ctx, username, t)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			log.Error().Err(err).Str("username", username).Msg("actor document lookup failed")
			http.Error(w, "", http.StatusInternalServerError)
			return
		}
		http.Error(w, "", http.StatusNotFound)
		return
	}
	if !actor.Active {
		http.Error(w, "", http.StatusNotFound)
		return
	}

	key, err := h.keys.EnsureForActor(ctx, actor)
	if err != nil {
		log.Error().Err(err).Str("actor", actor.ActorURI).Msg("unable to resolve actor key")
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	doc := actorDocument{
		Context: []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		ID:                actor.ActorURI,
		Type:              actor.Type.ActivityPubType(),
		PreferredUsername: actor.PreferredUsername,
		Name:              actor.Handle(h.Config.Domain),
		Inbox:             actor.InboxURI,
		Outbox:            actor.OutboxURI,
		Followers:         actor.FollowersURI,
		PublicKey: publicKeyDocument{
			ID:           key.KeyID,
			Owner:        actor.ActorURI,
			PublicKeyPem: key.PublicKey,
		},
	}

	w.Header().Set("Content-Type", "application/activity+json")
	writeBody(w, doc)
}

func InstanceActor(h *Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.actorDoc(w, r, h.Config.InstanceUsername, domain.ActorInstance)
	}
}

func UserActor(h *Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.actorDoc(w, r, chi.URLParam(r, "username"), domain.ActorUser)
	}
}

func GroupActor(h *Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.actorDoc(w, r, chi.URLParam(r, "name"), domain.ActorGroup)
	}
}
