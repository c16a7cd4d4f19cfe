package wellknown_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/atolldev/atoll/internal/actors"
	"github.com/atolldev/atoll/internal/config"
	impl "github.com/atolldev/atoll/internal/db/impl"
	"github.com/atolldev/atoll/internal/initialization"
	"github.com/atolldev/atoll/internal/wellknown"
	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"
)

var (
	router   chi.Router
	registry *actors.Registry
	ctx      = context.Background()
)

func TestMain(m *testing.M) {
	hostname, _ := url.Parse("https://test.atoll")
	cfg := config.Configuration{
		Domain:           "test.atoll",
		Url:              hostname,
		InstanceUsername: "atoll",
	}

	d, err := initialization.OpenDB("file:wftest?mode=memory&cache=shared")
	if err != nil {
		return
	}
	d.SetMaxOpenConns(1)
	if err = initialization.SetupDB(d, "../../migrations", "wftest"); err != nil {
		return
	}

	DB := impl.New(cfg, d)
	registry = actors.NewRegistry(DB, cfg)
	if _, err = registry.FindOrCreateInstanceActor(ctx); err != nil {
		return
	}
	if _, err = registry.FindOrCreateForUser(ctx, 1, "ada"); err != nil {
		return
	}
	if _, err = registry.FindOrCreateForSub(ctx, 2, "ada"); err != nil {
		return
	}
	if _, err = registry.FindOrCreateForSub(ctx, 3, "gardening"); err != nil {
		return
	}

	router = chi.NewRouter()
	wellknown.Mount(wellknown.NewResolver(registry), router)
	m.Run()
}

func get(resource string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/.well-known/webfinger?resource="+url.QueryEscape(resource), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func TestResolveUser(t *testing.T) {
	w := get("acct:ada@test.atoll")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/jrd+json" {
		t.Errorf("unexpected content type: %q", ct)
	}

	var res wellknown.WebfingerResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("unparseable body: %s", err)
	}
	want := wellknown.WebfingerResponse{
		Subject: "acct:ada@test.atoll",
		Links: []wellknown.WebfingerLink{
			{Rel: "self", Type: "application/activity+json", Href: "https://test.atoll/activitypub/users/ada"},
		},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Error(diff)
	}
}

func TestBangPrefixSelectsTheGroup(t *testing.T) {
	// ada exists both as a user and as a group; the bang picks the group.
	w := get("acct:!ada@test.atoll")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var res wellknown.WebfingerResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("unparseable body: %s", err)
	}
	if res.Subject != "acct:!ada@test.atoll" {
		t.Errorf("unexpected subject: %s", res.Subject)
	}
	if len(res.Links) != 1 || res.Links[0].Href != "https://test.atoll/activitypub/groups/ada" {
		t.Errorf("expected the group actor href, got %v", res.Links)
	}

	w = get("acct:!gardening@test.atoll")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for a group-only name, got %d", w.Code)
	}
}

func TestInstanceFallback(t *testing.T) {
	w := get("acct:atoll@test.atoll")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var res wellknown.WebfingerResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("unparseable body: %s", err)
	}
	if len(res.Links) != 1 || res.Links[0].Href != "https://test.atoll/activitypub/actor" {
		t.Errorf("expected the instance actor href, got %v", res.Links)
	}
}

func TestNotFoundCases(t *testing.T) {
	cases := []struct {
		name     string
		resource string
	}{
		{"unknown user", "acct:nobody@test.atoll"},
		{"unknown group", "acct:!nothing@test.atoll"},
		{"wrong domain", "acct:ada@elsewhere.example"},
		{"not an acct resource", "https://test.atoll/activitypub/users/ada"},
		{"empty", ""},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if w := get(c.resource); w.Code != http.StatusNotFound {
				t.Errorf("expected 404, got %d", w.Code)
			}
		})
	}
}
