// Package wellknown serves Webfinger discovery for local actors.
package wellknown

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/atolldev/atoll/internal/actors"
	"github.com/atolldev/atoll/internal/db"
	"github.com/atolldev/atoll/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type WebfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type"`
	Href string `json:"href"`
}

type WebfingerResponse struct {
	Subject string          `json:"subject"`
	Links   []WebfingerLink `json:"links"`
}

// Resolver maps acct: resources onto local actors.
type Resolver struct {
	registry *actors.Registry
}

func NewResolver(registry *actors.Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve parses an acct: resource and looks up the actor it names. A bang
// after the acct: prefix selects group lookup; otherwise the name is tried
// as a user and, failing that, as the instance actor.
func (r *Resolver) Resolve(ctx context.Context, resource string) (domain.Actor, error) {
	name, ok := r.parse(resource)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: unparseable resource %q", db.ErrNotFound, resource)
	}

	if group, found := strings.CutPrefix(name, "!"); found {
		return r.registry.FindByUsername(ctx, group, domain.ActorGroup)
	}

	actor, err := r.registry.FindByUsername(ctx, name, domain.ActorUser)
	if err == nil {
		return actor, nil
	}
	if errors.Is(err, db.ErrNotFound) && name == r.registry.Config.InstanceUsername {
		return r.registry.FindByUsername(ctx, name, domain.ActorInstance)
	}
	return domain.Actor{}, err
}

// parse splits "acct:name@host", requiring the host to be this instance.
func (r *Resolver) parse(resource string) (name string, ok bool) {
	rest, found := strings.CutPrefix(resource, "acct:")
	if !found {
		return "", false
	}
	name, host, found := strings.Cut(rest, "@")
	if !found || name == "" || !strings.EqualFold(host, r.registry.Config.Domain) {
		return "", false
	}
	return name, true
}

// Response builds the discovery document for a resolved actor.
func (r *Resolver) Response(actor domain.Actor) WebfingerResponse {
	return WebfingerResponse{
		Subject: actor.WebfingerResource(r.registry.Config.Domain),
		Links: []WebfingerLink{
			{Rel: "self", Type: "application/activity+json", Href: actor.ActorURI},
		},
	}
}

func Mount(resolver *Resolver, r chi.Router) {
	r.Route("/.well-known", func(r chi.Router) {
		r.Get("/webfinger", Endpoint(resolver))
	})
}

func Endpoint(resolver *Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resource := r.URL.Query().Get("resource")
		actor, err := resolver.Resolve(r.Context(), resource)
		if err != nil {
			if !errors.Is(err, db.ErrNotFound) {
				log.Error().Err(err).Str("resource", resource).Msg("webfinger lookup failed")
				http.Error(w, "", http.StatusInternalServerError)
				return
			}
			http.Error(w, "", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/jrd+json")
		if err = json.NewEncoder(w).Encode(resolver.Response(actor)); err != nil {
			log.Error().Err(err).Msg("unable to marshal webfinger response")
		}
	}
}
