package delivery_test

import (
	"context"
	"math"
	"net/url"
	"testing"
	"time"

	"github.com/atolldev/atoll/internal/config"
	"github.com/atolldev/atoll/internal/db"
	impl "github.com/atolldev/atoll/internal/db/impl"
	"github.com/atolldev/atoll/internal/delivery"
	"github.com/atolldev/atoll/internal/initialization"
	"github.com/benbjohnson/clock"
)

var (
	DB  db.DB
	clk *clock.Mock
	l   *delivery.Log
	ctx = context.Background()
)

func TestMain(m *testing.M) {
	hostname, _ := url.Parse("https://test.atoll")
	cfg := config.Configuration{Domain: "test.atoll", Url: hostname}

	d, err := initialization.OpenDB("file:logtest?mode=memory&cache=shared")
	if err != nil {
		return
	}
	d.SetMaxOpenConns(1)
	if err = initialization.SetupDB(d, "../../migrations", "logtest"); err != nil {
		return
	}

	DB = impl.New(cfg, d)
	clk = clock.NewMock()
	// Anchor the mock clock somewhere realistic so trailing windows have
	// room behind them.
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	l = delivery.NewLog(DB, clk)
	m.Run()
}

func TestStatsAndRate(t *testing.T) {
	// Nothing logged yet: the rate reads 0, not NaN.
	stats, err := l.GetStats(ctx, 24)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if stats.Total != 0 || stats.SuccessRate != 0 {
		t.Fatalf("expected an empty window, got %+v", stats)
	}

	inbox := "https://peer.example/inbox"
	if err := l.LogSuccess(ctx, 1, inbox, "Accept"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := l.LogSuccess(ctx, 1, inbox, "Accept"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := l.LogFailure(ctx, 1, inbox, "Accept", 502, "bad gateway", 3); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	stats, err = l.GetStats(ctx, 24)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if stats.Total != 3 || stats.Success != 2 || stats.Failed != 1 {
		t.Errorf("unexpected aggregate: %+v", stats)
	}
	want := 100 * 2.0 / 3.0
	if math.Abs(stats.SuccessRate-want) > 0.001 {
		t.Errorf("expected success rate %.3f, got %.3f", want, stats.SuccessRate)
	}
}

func TestFailuresByInstance(t *testing.T) {
	if err := l.LogFailure(ctx, 1, "https://flaky.example/inbox", "Accept", 500, "boom", 1); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := l.LogFailure(ctx, 1, "https://flaky.example/users/a/inbox", "Accept", 0, "timeout", 2); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	rows, err := l.FailuresByInstance(ctx, 24)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	var flaky int64
	for _, r := range rows {
		if r.Instance == "flaky.example" {
			flaky = r.Failures
		}
	}
	if flaky != 2 {
		t.Errorf("expected both inbox URLs to aggregate under flaky.example, got %d", flaky)
	}
}

func TestRecentFailures(t *testing.T) {
	for i := 0; i < 3; i++ {
		clk.Add(time.Second)
		if err := l.LogFailure(ctx, 2, "https://down.example/inbox", "Accept", 503, "unavailable", i); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
	}

	rows, err := l.RecentFailures(ctx, 2)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected the limit to hold, got %d rows", len(rows))
	}
	for _, r := range rows {
		if r.Success {
			t.Error("a successful delivery showed up in the failure list")
		}
		if r.AttemptCount < 1 {
			t.Errorf("attempt count below 1: %d", r.AttemptCount)
		}
	}
}

func TestBreakdownWindows(t *testing.T) {
	// One old success outside the 7d window, one failure inside 24h.
	old := clk.Now()
	clk.Set(old.Add(-30 * 24 * time.Hour))
	if err := l.LogSuccess(ctx, 3, "https://old.example/inbox", "Accept"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	clk.Set(old)
	if err := l.LogFailure(ctx, 3, "https://old.example/inbox", "Accept", 500, "boom", 1); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	b, err := l.GetBreakdown(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if b.AllTime.Total <= b.Last7d.Total {
		t.Errorf("expected the old entry only in all-time: 7d=%d all=%d", b.Last7d.Total, b.AllTime.Total)
	}
	if b.Last24h.Total < 1 {
		t.Errorf("expected the fresh failure in the 24h window, got %+v", b.Last24h)
	}
}
