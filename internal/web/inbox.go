package web

import (
	"errors"
	"io"
	"net/http"

	"github.com/atolldev/atoll/internal/db"
	"github.com/atolldev/atoll/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const maxActivityBytes = 1 << 20

// inbox processes one inbound activity for the target actor. The response
// is 202 for every readable body, applied or not, so remote servers learn
// nothing about why an activity was ignored.
func (h *Handler) inbox(w http.ResponseWriter, r *http.Request, username string, t domain.ActorType) {
	ctx := r.Context()

	if !h.Config.FederationEnabled {
		http.Error(w, "", http.StatusNotFound)
		return
	}

	actor, err := h.registry.FindByUsername(ctx, username, t)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			log.Error().Err(err).Str("username", username).Msg("inbox: actor lookup failed")
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

	body, err := io.ReadAll(io.LimitReader(r.Body, maxActivityBytes))
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	h.dispatcher.Process(ctx, actor, body)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
}

// InstanceInbox serves the legacy single-actor inbox at /activitypub/inbox.
func InstanceInbox(h *Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.inbox(w, r, h.Config.InstanceUsername, domain.ActorInstance)
	}
}

func UserInbox(h *Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.inbox(w, r, chi.URLParam(r, "username"), domain.ActorUser)
	}
}

func GroupInbox(h *Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.inbox(w, r, chi.URLParam(r, "name"), domain.ActorGroup)
	}
}
