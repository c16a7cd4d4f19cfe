// Package blocklist keeps the domain-level federation policy: full blocks
// reject all inbound traffic, silenced domains are ingested normally and
// only lose outward visibility elsewhere.
package blocklist

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/atolldev/atoll/internal/cache"
	"github.com/atolldev/atoll/internal/db"
	"github.com/atolldev/atoll/internal/domain"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

// ErrAlreadyBlocked is returned when an active block already exists for the
// domain. The admin API surfaces it as a 409.
var ErrAlreadyBlocked = errors.New("domain is already blocked")

type Guard struct {
	db    db.DB
	cache cache.Flags
	clock clock.Clock
}

func NewGuard(d db.DB, flags cache.Flags, clk clock.Clock) *Guard {
	return &Guard{db: d, cache: flags, clock: clk}
}

// NormalizeDomain reduces the input to a bare lower-case host: full URLs
// lose their scheme, path and port.
func NormalizeDomain(raw string) (string, error) {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return "", fmt.Errorf("empty domain")
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil || u.Hostname() == "" {
			return "", fmt.Errorf("unparseable domain %q", raw)
		}
		return u.Hostname(), nil
	}

	// Bare host, possibly with a stray path or port.
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	if u, err := url.Parse("https://" + s); err == nil && u.Hostname() != "" {
		return u.Hostname(), nil
	}
	return "", fmt.Errorf("unparseable domain %q", raw)
}

// BlockDomain persists a block for the domain. A still-active block for the
// same domain is a conflict; an expired or deactivated row is overwritten.
func (g *Guard) BlockDomain(ctx context.Context, rawDomain, reason string, t domain.BlockType, expiresAt *time.Time) (domain.BlockedInstance, error) {
	dom, err := NormalizeDomain(rawDomain)
	if err != nil {
		return domain.BlockedInstance{}, err
	}

	now := g.clock.Now()
	existing, err := g.db.GetBlockedInstance(ctx, dom)
	switch {
	case err == nil:
		if existing.Active && !existing.Expired(now) {
			return domain.BlockedInstance{}, fmt.Errorf("%w: %s", ErrAlreadyBlocked, dom)
		}
		existing.Type = t
		existing.Reason = reason
		existing.ExpiresAt = expiresAt
		existing.Active = true
		if err = g.db.UpdateBlockedInstance(ctx, existing); err != nil {
			return domain.BlockedInstance{}, err
		}
		g.invalidate(dom)
		return existing, nil
	case errors.Is(err, db.ErrNotFound):
	default:
		return domain.BlockedInstance{}, err
	}

	block, err := g.db.CreateBlockedInstance(ctx, domain.BlockedInstance{
		Domain:    dom,
		Type:      t,
		Reason:    reason,
		ExpiresAt: expiresAt,
		Active:    true,
	})
	if err != nil {
		return domain.BlockedInstance{}, err
	}
	g.invalidate(dom)
	log.Info().Str("domain", dom).Str("type", string(t)).Msg("blocked instance")
	return block, nil
}

// UpdateBlock patches an existing block record.
func (g *Guard) UpdateBlock(ctx context.Context, b domain.BlockedInstance) error {
	dom, err := NormalizeDomain(b.Domain)
	if err != nil {
		return err
	}
	b.Domain = dom
	if err = g.db.UpdateBlockedInstance(ctx, b); err != nil {
		return err
	}
	g.invalidate(dom)
	return nil
}

// Unblock removes the block row entirely. Reports whether one existed.
func (g *Guard) Unblock(ctx context.Context, rawDomain string) (bool, error) {
	dom, err := NormalizeDomain(rawDomain)
	if err != nil {
		return false, err
	}
	removed, err := g.db.DeleteBlockedInstance(ctx, dom)
	if err != nil {
		return false, err
	}
	g.invalidate(dom)
	return removed, nil
}

func (g *Guard) Get(ctx context.Context, rawDomain string) (domain.BlockedInstance, error) {
	dom, err := NormalizeDomain(rawDomain)
	if err != nil {
		return domain.BlockedInstance{}, err
	}
	return g.db.GetBlockedInstance(ctx, dom)
}

func (g *Guard) List(ctx context.Context) ([]domain.BlockedInstance, error) {
	return g.db.ListBlockedInstances(ctx)
}

// IsBlocked reports whether inbound traffic from the domain must be
// rejected. Only full blocks gate ingestion.
func (g *Guard) IsBlocked(ctx context.Context, rawDomain string) bool {
	return g.lookup(ctx, rawDomain, domain.BlockFull)
}

// IsSilenced reports whether the domain is silenced. Informational to this
// core; silenced traffic is still ingested.
func (g *Guard) IsSilenced(ctx context.Context, rawDomain string) bool {
	return g.lookup(ctx, rawDomain, domain.BlockSilence)
}

func (g *Guard) lookup(ctx context.Context, rawDomain string, t domain.BlockType) bool {
	dom, err := NormalizeDomain(rawDomain)
	if err != nil {
		return false
	}

	key := string(t) + ":" + dom
	if verdict, ok := g.cache.Get(key); ok {
		return verdict
	}

	block, err := g.db.GetBlockedInstance(ctx, dom)
	verdict := err == nil && block.Active && block.Type == t && !block.Expired(g.clock.Now())
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		// Fail open on storage trouble rather than dropping federation.
		log.Error().Err(err).Str("domain", dom).Msg("blocklist lookup failed")
		return false
	}

	// Rows with an expiry are evaluated afresh each time so an expired block
	// stops gating immediately, ahead of the periodic sweep.
	if err == nil && block.ExpiresAt != nil {
		return verdict
	}
	g.cache.Set(key, verdict)
	return verdict
}

// DeactivateExpired flips is_active off for blocks whose expiry has passed.
// Meant to run periodically; rows are never deleted.
func (g *Guard) DeactivateExpired(ctx context.Context) (int64, error) {
	return g.db.DeactivateExpiredBlocks(ctx, g.clock.Now())
}

func (g *Guard) invalidate(dom string) {
	g.cache.Delete(string(domain.BlockFull) + ":" + dom)
	g.cache.Delete(string(domain.BlockSilence) + ":" + dom)
}
