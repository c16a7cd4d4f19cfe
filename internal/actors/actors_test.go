package actors_test

import (
	"context"
	"crypto/rsa"
	"net/url"
	"sync"
	"testing"

	"github.com/atolldev/atoll/internal/actors"
	"github.com/atolldev/atoll/internal/config"
	"github.com/atolldev/atoll/internal/db"
	impl "github.com/atolldev/atoll/internal/db/impl"
	"github.com/atolldev/atoll/internal/domain"
	"github.com/atolldev/atoll/internal/initialization"
)

var (
	DB       db.DB
	registry *actors.Registry
	keys     *actors.KeyManager
	ctx      = context.Background()
)

func TestMain(m *testing.M) {
	hostname, _ := url.Parse("https://test.atoll")
	cfg := config.Configuration{
		Domain:           "test.atoll",
		Url:              hostname,
		InstanceUsername: "atoll",
		RsaKeySize:       2048,
	}

	d, err := initialization.OpenDB("file:actorstest?mode=memory&cache=shared")
	if err != nil {
		return
	}
	d.SetMaxOpenConns(1)
	if err = initialization.SetupDB(d, "../../migrations", "actorstest"); err != nil {
		return
	}

	DB = impl.New(cfg, d)
	registry = actors.NewRegistry(DB, cfg)
	keys = actors.NewKeyManager(DB, 2048)
	m.Run()
}

func TestFindOrCreateIsIdempotent(t *testing.T) {
	a1, err := registry.FindOrCreateForUser(ctx, 7, "mallory")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	a2, err := registry.FindOrCreateForUser(ctx, 7, "mallory")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if a1.ID != a2.ID {
		t.Errorf("expected the same actor, got ids %d and %d", a1.ID, a2.ID)
	}
}

func TestFindOrCreateConcurrent(t *testing.T) {
	const n = 16
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := registry.FindOrCreateForSub(ctx, 3, "golang")
			if err != nil {
				t.Errorf("unexpected error: %s", err)
				return
			}
			ids[i] = a.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent creation returned different ids: %v", ids)
		}
	}
}

func TestActorURIs(t *testing.T) {
	instance, err := registry.FindOrCreateInstanceActor(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if instance.ActorURI != "https://test.atoll/activitypub/actor" {
		t.Errorf("unexpected instance actor uri: %s", instance.ActorURI)
	}
	if instance.InboxURI != "https://test.atoll/activitypub/inbox" {
		t.Errorf("unexpected instance inbox uri: %s", instance.InboxURI)
	}

	user, err := registry.FindOrCreateForUser(ctx, 1, "erin")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if user.ActorURI != "https://test.atoll/activitypub/users/erin" {
		t.Errorf("unexpected user actor uri: %s", user.ActorURI)
	}
	if user.InboxURI != "https://test.atoll/activitypub/users/erin/inbox" {
		t.Errorf("unexpected user inbox uri: %s", user.InboxURI)
	}

	group, err := registry.FindOrCreateForSub(ctx, 2, "cooking")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if group.ActorURI != "https://test.atoll/activitypub/groups/cooking" {
		t.Errorf("unexpected group actor uri: %s", group.ActorURI)
	}
	if group.FollowersURI != "https://test.atoll/activitypub/groups/cooking/followers" {
		t.Errorf("unexpected group followers uri: %s", group.FollowersURI)
	}
}

func TestSameNameDifferentKinds(t *testing.T) {
	user, err := registry.FindOrCreateForUser(ctx, 10, "news")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	group, err := registry.FindOrCreateForSub(ctx, 11, "news")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if user.ID == group.ID {
		t.Error("a user and a group with the same name became the same actor")
	}

	got, err := registry.FindByUsername(ctx, "news", domain.ActorGroup)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got.ID != group.ID {
		t.Errorf("expected the group actor, got id %d", got.ID)
	}
}

func TestEnsureForActor(t *testing.T) {
	actor, err := registry.FindOrCreateForUser(ctx, 20, "keyed")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	k1, err := keys.EnsureForActor(ctx, actor)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if k1.KeyID != actor.ActorURI+"#main-key" {
		t.Errorf("unexpected key id: %s", k1.KeyID)
	}

	k2, err := keys.EnsureForActor(ctx, actor)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if k1.ID != k2.ID || k1.PrivateKey != k2.PrivateKey {
		t.Error("a second ensure produced a different key")
	}

	priv, err := actors.ParsePrivateKeyPem(k1.PrivateKey)
	if err != nil {
		t.Fatalf("stored private key does not parse: %s", err)
	}
	if _, ok := priv.(*rsa.PrivateKey); !ok {
		t.Errorf("expected an RSA key, got %T", priv)
	}
}

func TestGenerateKeysPemRoundTrip(t *testing.T) {
	pub, priv, err := actors.GenerateKeysPem(2048)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if pub == "" || priv == "" {
		t.Fatal("expected both PEM halves")
	}

	key, err := actors.ParsePrivateKeyPem(priv)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		t.Fatalf("expected an RSA key, got %T", key)
	}
	if rsaKey.N.BitLen() != 2048 {
		t.Errorf("expected a 2048-bit key, got %d", rsaKey.N.BitLen())
	}
}
