// Package web is the HTTP surface of the federation core: the inbox
// endpoints, actor documents, and the admin API over the blocklist and
// delivery statistics.
package web

import (
	"encoding/json"
	"net/http"

	"github.com/atolldev/atoll/internal/actors"
	"github.com/atolldev/atoll/internal/blocklist"
	"github.com/atolldev/atoll/internal/config"
	"github.com/atolldev/atoll/internal/db"
	"github.com/atolldev/atoll/internal/delivery"
	"github.com/atolldev/atoll/internal/federation"
	"github.com/atolldev/atoll/internal/ratelimit"
	"github.com/rs/zerolog/log"
)

const (
	InboxRoute = "/activitypub"
	AdminRoute = "/api/v1/admin/federation"
)

type Handler struct {
	Config     config.Configuration
	registry   *actors.Registry
	keys       *actors.KeyManager
	dispatcher *federation.Dispatcher
	guard      *blocklist.Guard
	limiter    *ratelimit.Limiter
	deliveries *delivery.Log
	store      db.DB
}

func New(
	cfg config.Configuration,
	registry *actors.Registry,
	keys *actors.KeyManager,
	dispatcher *federation.Dispatcher,
	guard *blocklist.Guard,
	limiter *ratelimit.Limiter,
	deliveries *delivery.Log,
	store db.DB,
) *Handler {
	return &Handler{
		Config:     cfg,
		registry:   registry,
		keys:       keys,
		dispatcher: dispatcher,
		guard:      guard,
		limiter:    limiter,
		deliveries: deliveries,
		store:      store,
	}
}

// writeBody encodes the body without touching headers; the caller has
// already set the content type.
func writeBody(w http.ResponseWriter, body any) {
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("unable to write response body")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("unable to write response body")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
