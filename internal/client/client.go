// Package client is the outbound HTTP client of the federation core. Every
// request first passes the SSRF guard: the target host is resolved through
// an injectable Resolver and rejected unless every address is publicly
// routable. Outbound requests are signed with HTTP signatures.
package client

import (
	"bytes"
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"code.superseriousbusiness.org/httpsig"
	"github.com/atolldev/atoll/internal/domain"
	"github.com/rs/zerolog/log"
)

const userAgent = "atoll/1.0 ActivityPub"

var (
	prefs       = []httpsig.Algorithm{httpsig.RSA_SHA256}
	postHeaders = []string{httpsig.RequestTarget, "date", "digest"}
)

// Resolver is the name-resolution seam of the SSRF guard. Production wires
// net.DefaultResolver; tests substitute a fake.
type Resolver interface {
	LookupIP(ctx context.Context, host string) ([]net.IP, error)
}

type netResolver struct{}

func (netResolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = a.IP
	}
	return ips, nil
}

// DefaultResolver resolves through the system resolver.
func DefaultResolver() Resolver { return netResolver{} }

// ErrForbiddenHost marks a target rejected by the SSRF guard.
type ErrForbiddenHost struct {
	Host string
	IP   net.IP
}

func (e *ErrForbiddenHost) Error() string {
	return fmt.Sprintf("host %s resolves to non-public address %s", e.Host, e.IP)
}

// Client issues SSRF-guarded, signature-capable requests to remote servers.
// The guard runs at the dial step: every connection, including redirect
// hops, goes to an address the resolver vetted, never through a second
// resolution.
type Client struct {
	http     *http.Client
	resolver Resolver
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)
}

func New(httpClient *http.Client, resolver Resolver) *Client {
	c := &Client{
		resolver: resolver,
		dial:     (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
	}

	// The transport dials through the guard. No proxy: a proxy would
	// carry the request past the guard unvetted.
	hc := *httpClient
	hc.Transport = &http.Transport{DialContext: c.dialVetted}
	hc.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		return c.checkTarget(req.Context(), req.URL)
	}
	c.http = &hc
	return c
}

// vet resolves the host and rejects loopback, private, link-local and
// otherwise non-global addresses. Returns the approved addresses.
func (c *Client) vet(ctx context.Context, host string) ([]net.IP, error) {
	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		resolved, err := c.resolver.LookupIP(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", host, err)
		}
		ips = resolved
	}

	if len(ips) == 0 {
		return nil, fmt.Errorf("host %s resolved to no addresses", host)
	}
	for _, ip := range ips {
		if !ip.IsGlobalUnicast() || ip.IsPrivate() {
			return nil, &ErrForbiddenHost{Host: host, IP: ip}
		}
	}
	return ips, nil
}

func (c *Client) checkTarget(ctx context.Context, target *url.URL) error {
	_, err := c.vet(ctx, target.Hostname())
	return err
}

// dialVetted connects to an address vet approved. Dialing the approved
// address directly closes the window between the guard's lookup and the
// connection.
func (c *Client) dialVetted(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ips, err := c.vet(ctx, host)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, ip := range ips {
		conn, err := c.dial(ctx, network, net.JoinHostPort(ip.String(), port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// FetchActor dereferences a remote actor document and extracts the parts
// this core consumes.
func (c *Client) FetchActor(ctx context.Context, actorURI string) (domain.RemoteActorDocument, error) {
	var doc domain.RemoteActorDocument

	target, err := url.Parse(actorURI)
	if err != nil {
		return doc, fmt.Errorf("invalid actor URI %q: %w", actorURI, err)
	}
	if err = c.checkTarget(ctx, target); err != nil {
		return doc, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, actorURI, nil)
	if err != nil {
		return doc, err
	}
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", userAgent)

	res, err := c.http.Do(req)
	if err != nil {
		return doc, fmt.Errorf("actor fetch: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return doc, fmt.Errorf("actor fetch returned %d", res.StatusCode)
	}

	var raw struct {
		ID                string `json:"id"`
		Type              string `json:"type"`
		PreferredUsername string `json:"preferredUsername"`
		Name              string `json:"name"`
		Inbox             string `json:"inbox"`
		Endpoints         struct {
			SharedInbox string `json:"sharedInbox"`
		} `json:"endpoints"`
		PublicKey struct {
			PublicKeyPem string `json:"publicKeyPem"`
		} `json:"publicKey"`
	}
	if err = json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return doc, fmt.Errorf("actor document decode: %w", err)
	}
	if raw.ID == "" || raw.Inbox == "" {
		return doc, fmt.Errorf("actor document missing required fields")
	}

	return domain.RemoteActorDocument{
		ID:                raw.ID,
		Type:              raw.Type,
		PreferredUsername: raw.PreferredUsername,
		Name:              raw.Name,
		Inbox:             raw.Inbox,
		SharedInbox:       raw.Endpoints.SharedInbox,
		PublicKeyPem:      raw.PublicKey.PublicKeyPem,
	}, nil
}

// Deliver POSTs a signed activity to a remote inbox. Returns the HTTP status
// when a response was received; a zero status means the request never
// completed (DNS failure, SSRF rejection, timeout).
func (c *Client) Deliver(ctx context.Context, body []byte, inbox string, key crypto.PrivateKey, keyID string) (int, error) {
	target, err := url.Parse(inbox)
	if err != nil {
		return 0, fmt.Errorf("invalid inbox URL %q: %w", inbox, err)
	}
	if err = c.checkTarget(ctx, target); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	signer, _, err := httpsig.NewSigner(prefs, httpsig.DigestSha256, postHeaders, httpsig.Signature, 3600)
	if err != nil {
		return 0, err
	}
	if err = signer.SignRequest(key, keyID, req, body); err != nil {
		return 0, fmt.Errorf("signing delivery: %w", err)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		response, _ := io.ReadAll(res.Body)
		log.Debug().Int("code", res.StatusCode).Bytes("response body", response).Msg("delivery error")
		return res.StatusCode, fmt.Errorf("error %d: %s", res.StatusCode, res.Status)
	}
	return res.StatusCode, nil
}
