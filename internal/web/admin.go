package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/atolldev/atoll/internal/blocklist"
	"github.com/atolldev/atoll/internal/db"
	"github.com/atolldev/atoll/internal/delivery"
	"github.com/atolldev/atoll/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// AdminMiddleware guards the federation admin API with the configured
// bearer token. An empty token denies everything.
func AdminMiddleware(h *Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || h.Config.AdminToken == "" ||
				subtle.ConstantTimeCompare([]byte(token), []byte(h.Config.AdminToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "Unauthorized.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type blockedInstanceResponse struct {
	ID        int64      `json:"id"`
	Domain    string     `json:"domain"`
	BlockType string     `json:"block_type"`
	Reason    string     `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
}

func toBlockedInstanceResponse(b domain.BlockedInstance) blockedInstanceResponse {
	return blockedInstanceResponse{
		ID:        b.ID,
		Domain:    b.Domain,
		BlockType: string(b.Type),
		Reason:    b.Reason,
		ExpiresAt: b.ExpiresAt,
		IsActive:  b.Active,
		CreatedAt: b.CreatedAt,
	}
}

func parseBlockType(raw string) (domain.BlockType, bool) {
	switch domain.BlockType(raw) {
	case domain.BlockFull, domain.BlockSilence:
		return domain.BlockType(raw), true
	}
	return "", false
}

func ListBlockedInstances(h *Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		blocks, err := h.guard.List(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("admin: unable to list blocked instances")
			writeError(w, http.StatusInternalServerError, "Internal error.")
			return
		}
		out := make([]blockedInstanceResponse, 0, len(blocks))
		for _, b := range blocks {
			out = append(out, toBlockedInstanceResponse(b))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func BlockInstance(h *Handler) http.HandlerFunc {
	type request struct {
		Domain    string     `json:"domain"`
		Reason    string     `json:"reason"`
		BlockType string     `json:"block_type"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body.")
			return
		}
		if req.BlockType == "" {
			req.BlockType = string(domain.BlockFull)
		}
		t, ok := parseBlockType(req.BlockType)
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, "Unknown block type.")
			return
		}

		block, err := h.guard.BlockDomain(r.Context(), req.Domain, req.Reason, t, req.ExpiresAt)
		switch {
		case errors.Is(err, blocklist.ErrAlreadyBlocked):
			writeError(w, http.StatusConflict, "Instance is already blocked.")
			return
		case err != nil:
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, toBlockedInstanceResponse(block))
	}
}

func UpdateBlockedInstance(h *Handler) http.HandlerFunc {
	type request struct {
		Reason    *string    `json:"reason"`
		BlockType *string    `json:"block_type"`
		ExpiresAt *time.Time `json:"expires_at"`
		IsActive  *bool      `json:"is_active"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body.")
			return
		}

		block, err := h.guard.Get(r.Context(), chi.URLParam(r, "domain"))
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, http.StatusNotFound, "Instance is not blocked.")
				return
			}
			log.Error().Err(err).Msg("admin: unable to load block")
			writeError(w, http.StatusInternalServerError, "Internal error.")
			return
		}

		if req.Reason != nil {
			block.Reason = *req.Reason
		}
		if req.BlockType != nil {
			t, ok := parseBlockType(*req.BlockType)
			if !ok {
				writeError(w, http.StatusUnprocessableEntity, "Unknown block type.")
				return
			}
			block.Type = t
		}
		if req.ExpiresAt != nil {
			block.ExpiresAt = req.ExpiresAt
		}
		if req.IsActive != nil {
			block.Active = *req.IsActive
		}

		if err = h.guard.UpdateBlock(r.Context(), block); err != nil {
			log.Error().Err(err).Msg("admin: unable to update block")
			writeError(w, http.StatusInternalServerError, "Internal error.")
			return
		}
		writeJSON(w, http.StatusOK, toBlockedInstanceResponse(block))
	}
}

func UnblockInstance(h *Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed, err := h.guard.Unblock(r.Context(), chi.URLParam(r, "domain"))
		if err != nil {
			log.Error().Err(err).Msg("admin: unable to unblock instance")
			writeError(w, http.StatusInternalServerError, "Internal error.")
			return
		}
		if !removed {
			writeError(w, http.StatusNotFound, "Instance is not blocked.")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func CheckBlockedInstance(h *Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dom, err := blocklist.NormalizeDomain(r.URL.Query().Get("domain"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid domain.")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"domain":   dom,
			"blocked":  h.guard.IsBlocked(r.Context(), dom),
			"silenced": h.guard.IsSilenced(r.Context(), dom),
		})
	}
}

// queryInt reads an integer query parameter, falling back when absent or
// unparseable.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func FederationStats(h *Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		breakdown, err := h.deliveries.GetBreakdown(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("admin: unable to build delivery breakdown")
			writeError(w, http.StatusInternalServerError, "Internal error.")
			return
		}
		writeJSON(w, http.StatusOK, breakdown)
	}
}

func DeliveryStats(h *Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := h.deliveries.GetStats(r.Context(), queryInt(r, "hours", 24))
		if err != nil {
			log.Error().Err(err).Msg("admin: unable to build delivery stats")
			writeError(w, http.StatusInternalServerError, "Internal error.")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func InstanceFailureStats(h *Handler) http.HandlerFunc {
	type row struct {
		Instance string `json:"instance"`
		Failures int64  `json:"failures"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		failures, err := h.deliveries.FailuresByInstance(r.Context(), queryInt(r, "hours", 24))
		if err != nil {
			log.Error().Err(err).Msg("admin: unable to aggregate instance failures")
			writeError(w, http.StatusInternalServerError, "Internal error.")
			return
		}
		out := make([]row, 0, len(failures))
		for _, f := range failures {
			out = append(out, row{Instance: f.Instance, Failures: f.Failures})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func RecentFailures(h *Handler) http.HandlerFunc {
	type row struct {
		ID           int64     `json:"id"`
		ActorID      int64     `json:"actor_id"`
		InboxURL     string    `json:"inbox_url"`
		Instance     string    `json:"instance"`
		ActivityType string    `json:"activity_type"`
		HTTPStatus   int       `json:"http_status,omitempty"`
		ErrorMessage string    `json:"error_message,omitempty"`
		AttemptCount int       `json:"attempt_count"`
		CreatedAt    time.Time `json:"created_at"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		failures, err := h.deliveries.RecentFailures(r.Context(), queryInt(r, "limit", delivery.DefaultFailureLimit))
		if err != nil {
			log.Error().Err(err).Msg("admin: unable to list recent failures")
			writeError(w, http.StatusInternalServerError, "Internal error.")
			return
		}
		out := make([]row, 0, len(failures))
		for _, f := range failures {
			out = append(out, row{
				ID:           f.ID,
				ActorID:      f.ActorID,
				InboxURL:     f.InboxURL,
				Instance:     f.Instance,
				ActivityType: f.ActivityType,
				HTTPStatus:   f.HTTPStatus,
				ErrorMessage: f.ErrorMessage,
				AttemptCount: f.AttemptCount,
				CreatedAt:    f.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func EngagedPosts(h *Handler) http.HandlerFunc {
	type row struct {
		ID             int64  `json:"id"`
		Title          string `json:"title"`
		ActivityPubURI string `json:"activitypub_uri"`
		Likes          int64  `json:"federation_likes_count"`
		Shares         int64  `json:"federation_shares_count"`
		Replies        int64  `json:"federation_replies_count"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		posts, err := h.store.MostEngagedPosts(r.Context(), queryInt(r, "limit", 10))
		if err != nil {
			log.Error().Err(err).Msg("admin: unable to list engaged posts")
			writeError(w, http.StatusInternalServerError, "Internal error.")
			return
		}
		out := make([]row, 0, len(posts))
		for _, p := range posts {
			out = append(out, row{
				ID:             p.ID,
				Title:          p.Title,
				ActivityPubURI: p.ActivityPubURI,
				Likes:          p.FederationLikesCount,
				Shares:         p.FederationSharesCount,
				Replies:        p.FederationRepliesCount,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}
