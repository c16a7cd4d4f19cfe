package web_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/atolldev/atoll/internal/actors"
	"github.com/atolldev/atoll/internal/blocklist"
	"github.com/atolldev/atoll/internal/cache"
	"github.com/atolldev/atoll/internal/config"
	"github.com/atolldev/atoll/internal/db"
	impl "github.com/atolldev/atoll/internal/db/impl"
	"github.com/atolldev/atoll/internal/delivery"
	"github.com/atolldev/atoll/internal/domain"
	"github.com/atolldev/atoll/internal/federation"
	"github.com/atolldev/atoll/internal/followers"
	"github.com/atolldev/atoll/internal/initialization"
	"github.com/atolldev/atoll/internal/ratelimit"
	"github.com/atolldev/atoll/internal/web"
	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
)

const adminToken = "test-admin-token"

var (
	DB     db.DB
	sqlDB  *sql.DB
	cfg    config.Configuration
	router chi.Router
	guard  *blocklist.Guard
	ctx    = context.Background()
)

type fakeFetcher struct{}

func (fakeFetcher) FetchActor(_ context.Context, uri string) (domain.RemoteActorDocument, error) {
	if strings.Contains(uri, "unfetchable") {
		return domain.RemoteActorDocument{}, fmt.Errorf("no such actor %s", uri)
	}
	return domain.RemoteActorDocument{
		ID:                uri,
		Type:              "Person",
		PreferredUsername: "someone",
		Inbox:             uri + "/inbox",
	}, nil
}

func TestMain(m *testing.M) {
	hostname, _ := url.Parse("https://test.atoll")
	cfg = config.Configuration{
		Domain:                 "test.atoll",
		Url:                    hostname,
		InstanceUsername:       "atoll",
		FederationEnabled:      true,
		RsaKeySize:             2048,
		AdminToken:             adminToken,
		RateLimitMaxAttempts:   100,
		RateLimitWindowMinutes: 1,
	}

	var err error
	sqlDB, err = initialization.OpenDB("file:webtest?mode=memory&cache=shared")
	if err != nil {
		return
	}
	sqlDB.SetMaxOpenConns(1)
	if err = initialization.SetupDB(sqlDB, "../../migrations", "webtest"); err != nil {
		return
	}

	DB = impl.New(cfg, sqlDB)
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	registry := actors.NewRegistry(DB, cfg)
	keys := actors.NewKeyManager(DB, cfg.RsaKeySize)
	if err = initialization.EnsureInstanceActor(ctx, registry, keys); err != nil {
		return
	}
	if _, err = registry.FindOrCreateForUser(ctx, 1, "ada"); err != nil {
		return
	}
	if _, err = registry.FindOrCreateForSub(ctx, 2, "gardening"); err != nil {
		return
	}

	guard = blocklist.NewGuard(DB, cache.NewFlags(64, 5*time.Minute), clk)
	limiter := ratelimit.NewLimiter(cache.NewCounters(clk), guard,
		cfg.RateLimitMaxAttempts, time.Minute)
	deliveries := delivery.NewLog(DB, clk)
	dispatcher := federation.NewDispatcher(DB, followers.NewStore(DB), fakeFetcher{}, nil)

	handler := web.New(cfg, registry, keys, dispatcher, guard, limiter, deliveries, DB)
	router = chi.NewRouter()
	handler.Mount(router)
	m.Run()
}

func request(method, path, body, token string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func TestInboxAlwaysAccepts(t *testing.T) {
	cases := []struct {
		name string
		path string
		body string
	}{
		{"valid follow, legacy inbox", "/activitypub/inbox",
			`{"type":"Follow","actor":"https://remote.example/users/fan","object":"https://test.atoll/activitypub/actor"}`},
		{"valid follow, user inbox", "/activitypub/users/ada/inbox",
			`{"type":"Follow","actor":"https://remote.example/users/fan","object":"https://test.atoll/activitypub/users/ada"}`},
		{"group inbox", "/activitypub/groups/gardening/inbox",
			`{"type":"Like","actor":"https://remote.example/users/fan","object":"https://test.atoll/posts/1"}`},
		{"malformed json", "/activitypub/inbox", `{"type":`},
		{"unknown activity type", "/activitypub/inbox", `{"type":"Move","actor":"https://remote.example/users/fan"}`},
		{"unfetchable follower", "/activitypub/inbox",
			`{"type":"Follow","actor":"https://remote.example/users/unfetchable","object":"https://test.atoll/activitypub/actor"}`},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w := request(http.MethodPost, c.path, c.body, "")
			if w.Code != http.StatusAccepted {
				t.Fatalf("expected 202, got %d (%s)", w.Code, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), `"status":"ok"`) {
				t.Errorf("unexpected body: %s", w.Body.String())
			}
		})
	}
}

func TestInboxUnknownActor(t *testing.T) {
	w := request(http.MethodPost, "/activitypub/users/nobody/inbox", `{"type":"Follow"}`, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	w = request(http.MethodPost, "/activitypub/groups/nothing/inbox", `{"type":"Follow"}`, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestInboxRateLimitHeaders(t *testing.T) {
	w := request(http.MethodPost, "/activitypub/inbox",
		`{"type":"Like","actor":"https://headers.example/users/x","object":"https://test.atoll/posts/none"}`, "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Limit") != "100" {
		t.Errorf("unexpected limit header: %q", w.Header().Get("X-RateLimit-Limit"))
	}
	if w.Header().Get("X-RateLimit-Remaining") == "" || w.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("expected remaining and reset headers")
	}
}

func TestBlockedDomainNeverReachesTheDispatcher(t *testing.T) {
	if _, err := guard.BlockDomain(ctx, "banned.example", "spam", domain.BlockFull, nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	w := request(http.MethodPost, "/activitypub/inbox",
		`{"type":"Follow","actor":"https://banned.example/users/spammer","object":"https://test.atoll/activitypub/actor"}`, "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Instance is blocked.") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}

	// A silenced domain is processed normally.
	if _, err := guard.BlockDomain(ctx, "quiet.example", "", domain.BlockSilence, nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	w = request(http.MethodPost, "/activitypub/inbox",
		`{"type":"Follow","actor":"https://quiet.example/users/mouse","object":"https://test.atoll/activitypub/actor"}`, "")
	if w.Code != http.StatusAccepted {
		t.Errorf("expected a silenced domain to get 202, got %d", w.Code)
	}
}

func TestActorDocuments(t *testing.T) {
	cases := []struct {
		name     string
		path     string
		wantType string
		wantID   string
	}{
		{"instance", "/activitypub/actor", "Application", "https://test.atoll/activitypub/actor"},
		{"user", "/activitypub/users/ada", "Person", "https://test.atoll/activitypub/users/ada"},
		{"group", "/activitypub/groups/gardening", "Group", "https://test.atoll/activitypub/groups/gardening"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w := request(http.MethodGet, c.path, "", "")
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/activity+json" {
				t.Errorf("unexpected content type: %q", ct)
			}

			var doc struct {
				ID        string `json:"id"`
				Type      string `json:"type"`
				Inbox     string `json:"inbox"`
				PublicKey struct {
					ID           string `json:"id"`
					Owner        string `json:"owner"`
					PublicKeyPem string `json:"publicKeyPem"`
				} `json:"publicKey"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
				t.Fatalf("unparseable body: %s", err)
			}
			if doc.ID != c.wantID || doc.Type != c.wantType {
				t.Errorf("unexpected identity: %+v", doc)
			}
			if doc.Inbox == "" {
				t.Error("expected an inbox URI")
			}
			if doc.PublicKey.Owner != c.wantID || !strings.Contains(doc.PublicKey.PublicKeyPem, "BEGIN PUBLIC KEY") {
				t.Errorf("unexpected public key block: %+v", doc.PublicKey)
			}
			if doc.PublicKey.ID != c.wantID+"#main-key" {
				t.Errorf("unexpected key id: %s", doc.PublicKey.ID)
			}
		})
	}

	if w := request(http.MethodGet, "/activitypub/users/nobody", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown actor, got %d", w.Code)
	}
}

func TestAdminAuthentication(t *testing.T) {
	if w := request(http.MethodGet, "/api/v1/admin/federation/blocked-instances", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", w.Code)
	}
	if w := request(http.MethodGet, "/api/v1/admin/federation/blocked-instances", "", "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with a wrong token, got %d", w.Code)
	}
	if w := request(http.MethodGet, "/api/v1/admin/federation/blocked-instances", "", adminToken); w.Code != http.StatusOK {
		t.Errorf("expected 200 with the right token, got %d", w.Code)
	}
}

func TestAdminBlocklistFlow(t *testing.T) {
	w := request(http.MethodPost, "/api/v1/admin/federation/blocked-instances",
		`{"domain":"https://Evil.Example/whatever","reason":"abuse"}`, adminToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", w.Code, w.Body.String())
	}
	var created struct {
		Domain    string `json:"domain"`
		BlockType string `json:"block_type"`
		IsActive  bool   `json:"is_active"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unparseable body: %s", err)
	}
	if created.Domain != "evil.example" || created.BlockType != "full" || !created.IsActive {
		t.Errorf("unexpected block: %+v", created)
	}

	// Blocking the same domain again conflicts.
	w = request(http.MethodPost, "/api/v1/admin/federation/blocked-instances",
		`{"domain":"evil.example"}`, adminToken)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}

	w = request(http.MethodPost, "/api/v1/admin/federation/blocked-instances",
		`{"domain":"odd.example","block_type":"shadow"}`, adminToken)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for an unknown block type, got %d", w.Code)
	}

	w = request(http.MethodGet, "/api/v1/admin/federation/blocked-instances/check?domain=evil.example", "", adminToken)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var check struct {
		Blocked  bool `json:"blocked"`
		Silenced bool `json:"silenced"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &check); err != nil {
		t.Fatalf("unparseable body: %s", err)
	}
	if !check.Blocked || check.Silenced {
		t.Errorf("unexpected verdicts: %+v", check)
	}

	w = request(http.MethodPatch, "/api/v1/admin/federation/blocked-instances/evil.example",
		`{"block_type":"silence","reason":"downgraded"}`, adminToken)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	w = request(http.MethodDelete, "/api/v1/admin/federation/blocked-instances/evil.example", "", adminToken)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	w = request(http.MethodDelete, "/api/v1/admin/federation/blocked-instances/evil.example", "", adminToken)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 on a second delete, got %d", w.Code)
	}
}

func TestAdminStats(t *testing.T) {
	if _, err := sqlDB.Exec(
		"INSERT INTO posts (title, activitypub_uri, federation_likes_count) VALUES ('hot', 'https://test.atoll/posts/hot', 12)",
	); err != nil {
		t.Fatalf("unexpected error seeding post: %s", err)
	}

	paths := []string{
		"/api/v1/admin/federation/stats",
		"/api/v1/admin/federation/stats/deliveries",
		"/api/v1/admin/federation/stats/instances",
		"/api/v1/admin/federation/stats/failures",
		"/api/v1/admin/federation/stats/engaged-posts",
	}
	for _, p := range paths {
		if w := request(http.MethodGet, p, "", adminToken); w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", p, w.Code)
		}
	}

	w := request(http.MethodGet, "/api/v1/admin/federation/stats/engaged-posts", "", adminToken)
	var posts []struct {
		Title string `json:"title"`
		Likes int64  `json:"federation_likes_count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &posts); err != nil {
		t.Fatalf("unparseable body: %s", err)
	}
	if len(posts) == 0 || posts[0].Title != "hot" {
		t.Errorf("expected the seeded post, got %v", posts)
	}
}

func TestFederationDisabled(t *testing.T) {
	off := cfg
	off.FederationEnabled = false

	clk := clock.NewMock()
	limiter := ratelimit.NewLimiter(cache.NewCounters(clk), guard, 100, time.Minute)
	deliveries := delivery.NewLog(DB, clk)
	registry := actors.NewRegistry(DB, off)
	keys := actors.NewKeyManager(DB, off.RsaKeySize)
	dispatcher := federation.NewDispatcher(DB, followers.NewStore(DB), fakeFetcher{}, nil)

	handler := web.New(off, registry, keys, dispatcher, guard, limiter, deliveries, DB)
	r := chi.NewRouter()
	handler.Mount(r)

	for _, path := range []string{"/activitypub/inbox", "/activitypub/users/ada/inbox"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"type":"Follow"}`))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404 with federation off, got %d", path, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/activitypub/users/ada", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 actor document with federation off, got %d", w.Code)
	}
}
