package actors

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/atolldev/atoll/internal/db"
	"github.com/atolldev/atoll/internal/domain"
)

// KeyManager owns the single RSA keypair of each local actor. Keys are
// generated lazily on first need and never rotated.
type KeyManager struct {
	db      db.DB
	keySize int
}

func NewKeyManager(d db.DB, keySize int) *KeyManager {
	return &KeyManager{db: d, keySize: keySize}
}

// EnsureForActor returns the actor's keypair, generating and persisting one
// if none exists yet. Concurrent callers resolve to the same key through the
// unique constraint on actor_keys.actor_id.
func (m *KeyManager) EnsureForActor(ctx context.Context, actor domain.Actor) (domain.ActorKey, error) {
	key, err := m.db.GetActorKey(ctx, actor.ID)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return domain.ActorKey{}, err
	}

	key, err = m.GenerateForActor(ctx, actor)
	if errors.Is(err, db.ErrConflict) {
		// Lost the race; the winner's key is the actor's key.
		return m.db.GetActorKey(ctx, actor.ID)
	}
	return key, err
}

// GenerateForActor creates and persists a fresh keypair for the actor.
func (m *KeyManager) GenerateForActor(ctx context.Context, actor domain.Actor) (domain.ActorKey, error) {
	pub, priv, err := GenerateKeysPem(m.keySize)
	if err != nil {
		return domain.ActorKey{}, fmt.Errorf("key generation for %s: %w", actor.ActorURI, err)
	}

	return m.db.CreateActorKey(ctx, domain.ActorKey{
		ActorID:    actor.ID,
		KeyID:      actor.ActorURI + "#main-key",
		PublicKey:  pub,
		PrivateKey: priv,
	})
}

// GenerateKeysPem returns a PEM-encoded RSA keypair of the given size:
// PKIX for the public half, PKCS#8 for the private half.
func GenerateKeysPem(size int) (pub string, priv string, err error) {
	key, err := rsa.GenerateKey(rand.Reader, size)
	if err != nil {
		return
	}

	priv, err = privateKeyPem(key)
	if err != nil {
		return
	}

	pub, err = publicKeyPem(&key.PublicKey)
	return
}

func privateKeyPem(key *rsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", err
	}

	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: der,
	})), nil
}

func publicKeyPem(key *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: der,
	})), err
}

// ParsePrivateKeyPem decodes a PKCS#8 PEM private key.
func ParsePrivateKeyPem(pemStr string) (crypto.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, errors.New("failure to parse private key")
	}
	return x509.ParsePKCS8PrivateKey(block.Bytes)
}
