// Package delivery records outbound delivery attempts and serves the
// aggregate statistics built over them. The log is append-only; retry
// scheduling itself belongs to the queue.
package delivery

import (
	"context"
	"net/url"
	"time"

	"github.com/atolldev/atoll/internal/db"
	"github.com/atolldev/atoll/internal/domain"
	"github.com/benbjohnson/clock"
)

// DefaultFailureLimit bounds the recent-failures listing when the caller
// does not say otherwise.
const DefaultFailureLimit = 50

// Stats is a windowed aggregate over the log. SuccessRate is a percentage,
// zero when the window is empty.
type Stats struct {
	Total       int64   `json:"total"`
	Success     int64   `json:"success"`
	Failed      int64   `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// Breakdown is the windowed success/failure view used for dashboards.
type Breakdown struct {
	Last24h Stats `json:"last_24h"`
	Last7d  Stats `json:"last_7d"`
	AllTime Stats `json:"all_time"`
}

type Log struct {
	db    db.DB
	clock clock.Clock
}

func NewLog(d db.DB, clk clock.Clock) *Log {
	return &Log{db: d, clock: clk}
}

// instanceOf parses the remote instance host out of an inbox URL. An
// unparseable URL degrades to the raw string; the log never rejects a row.
func instanceOf(inboxURL string) string {
	u, err := url.Parse(inboxURL)
	if err != nil || u.Hostname() == "" {
		return inboxURL
	}
	return u.Hostname()
}

func (l *Log) LogSuccess(ctx context.Context, actorID int64, inboxURL, activityType string) error {
	return l.db.AppendDeliveryLog(ctx, domain.DeliveryLogEntry{
		ActorID:      actorID,
		InboxURL:     inboxURL,
		Instance:     instanceOf(inboxURL),
		ActivityType: activityType,
		Success:      true,
		AttemptCount: 1,
		CreatedAt:    l.clock.Now(),
	})
}

func (l *Log) LogFailure(ctx context.Context, actorID int64, inboxURL, activityType string, httpStatus int, errorMessage string, attemptCount int) error {
	if attemptCount < 1 {
		attemptCount = 1
	}
	return l.db.AppendDeliveryLog(ctx, domain.DeliveryLogEntry{
		ActorID:      actorID,
		InboxURL:     inboxURL,
		Instance:     instanceOf(inboxURL),
		ActivityType: activityType,
		Success:      false,
		HTTPStatus:   httpStatus,
		ErrorMessage: errorMessage,
		AttemptCount: attemptCount,
		CreatedAt:    l.clock.Now(),
	})
}

// GetStats aggregates the trailing window of the given width.
func (l *Log) GetStats(ctx context.Context, hours int) (Stats, error) {
	since := l.clock.Now().Add(-time.Duration(hours) * time.Hour)
	raw, err := l.db.DeliveryStatsSince(ctx, since)
	if err != nil {
		return Stats{}, err
	}
	return withRate(raw), nil
}

func withRate(raw db.DeliveryStats) Stats {
	s := Stats{Total: raw.Total, Success: raw.Success, Failed: raw.Failed}
	if s.Total > 0 {
		s.SuccessRate = 100 * float64(s.Success) / float64(s.Total)
	}
	return s
}

func (l *Log) FailuresByInstance(ctx context.Context, hours int) ([]db.InstanceFailures, error) {
	since := l.clock.Now().Add(-time.Duration(hours) * time.Hour)
	return l.db.DeliveryFailuresByInstance(ctx, since)
}

func (l *Log) RecentFailures(ctx context.Context, limit int) ([]domain.DeliveryLogEntry, error) {
	if limit <= 0 {
		limit = DefaultFailureLimit
	}
	return l.db.RecentDeliveryFailures(ctx, limit)
}

// GetBreakdown returns the 24h / 7d / all-time windows in one shot.
func (l *Log) GetBreakdown(ctx context.Context) (Breakdown, error) {
	var b Breakdown
	now := l.clock.Now()

	day, err := l.db.DeliveryStatsSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return b, err
	}
	week, err := l.db.DeliveryStatsSince(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		return b, err
	}
	all, err := l.db.DeliveryStatsSince(ctx, time.Unix(0, 0))
	if err != nil {
		return b, err
	}

	b.Last24h = withRate(day)
	b.Last7d = withRate(week)
	b.AllTime = withRate(all)
	return b, nil
}
