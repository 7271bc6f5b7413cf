// Package identity verifies bearer tokens against a JWKS and maps claims
// to an internal Principal. The JWKS is fetched from the
// configured issuer, cached, and refreshed by a single owner goroutine;
// readers see atomic pointer swaps, the same single-owner-task idiom
// config.ReloadCoordinator uses, with the key lookup adapted from a
// local keyset to a remote JWKS. Only RSA keys are used; keys of other
// types are skipped.
package identity

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dxcp/dxcp/internal/domain"
)

// base64URLDecode decodes a JWK's base64url field, tolerating both padded
// and unpadded encodings since issuers are inconsistent about this.
func base64URLDecode(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// Config configures the resolver's issuer, audience, and JWKS settings.
type Config struct {
	Issuer        string
	Audience      string
	JWKSURL       string
	RolesClaim    string // URL-shaped namespace, e.g. "https://dxcp/roles"
	RefreshEvery  time.Duration
	HTTPClient    *http.Client
}

// ErrUnauthorized signals a missing, invalid, or expired token.
type ErrUnauthorized struct{ Reason string }

func (e *ErrUnauthorized) Error() string { return "identity: unauthorized: " + e.Reason }

// ErrForbidden signals a token that verifies but fails audience/issuer
// checks.
type ErrForbidden struct{ Reason string }

func (e *ErrForbidden) Error() string { return "identity: forbidden: " + e.Reason }

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksDoc struct {
	Keys []jwk `json:"keys"`
}

type keySet struct {
	keys map[string]*rsa.PublicKey
}

// Resolver verifies bearer tokens and extracts Principals.
type Resolver struct {
	cfg    Config
	logger *slog.Logger
	keys   atomic.Pointer[keySet]
	client *http.Client
}

// NewResolver creates a Resolver and performs one synchronous JWKS fetch
// so the first request doesn't race an empty key set.
func NewResolver(ctx context.Context, cfg Config, logger *slog.Logger) (*Resolver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	r := &Resolver{cfg: cfg, logger: logger, client: client}
	if err := r.refresh(ctx); err != nil {
		return nil, fmt.Errorf("identity: initial jwks fetch: %w", err)
	}
	return r, nil
}

// RunRefresher starts the single owner goroutine that periodically
// refetches the JWKS document until ctx is canceled.
func (r *Resolver) RunRefresher(ctx context.Context) {
	interval := r.cfg.RefreshEvery
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.refresh(ctx); err != nil {
					r.logger.Error("jwks refresh failed, keeping stale key set", "error", err)
				}
			}
		}
	}()
}

func (r *Resolver) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.JWKSURL, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var doc jwksDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	ks := &keySet{keys: make(map[string]*rsa.PublicKey, len(doc.Keys))}
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := rsaPublicKeyFromJWK(k)
		if err != nil {
			r.logger.Warn("skipping malformed jwk", "kid", k.Kid, "error", err)
			continue
		}
		ks.keys[k.Kid] = pub
	}

	r.keys.Store(ks)
	r.logger.Info("jwks refreshed", "keys", len(ks.keys))
	return nil
}

func rsaPublicKeyFromJWK(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64URLDecode(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode n: %w", err)
	}
	eBytes, err := base64URLDecode(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode e: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func (r *Resolver) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	kid, _ := token.Header["kid"].(string)
	ks := r.keys.Load()
	if ks == nil {
		return nil, fmt.Errorf("jwks not loaded")
	}
	key, ok := ks.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return key, nil
}

// Resolve verifies a raw bearer token and returns the Principal, or
// an ErrUnauthorized/ErrForbidden describing why it was rejected.
func (r *Resolver) Resolve(rawToken string) (domain.Principal, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}))
	token, err := parser.ParseWithClaims(rawToken, claims, r.keyFunc)
	if err != nil || !token.Valid {
		return domain.Principal{}, &ErrUnauthorized{Reason: errString(err)}
	}

	iss, _ := claims["iss"].(string)
	aud := audienceOf(claims["aud"])
	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	azp, _ := claims["azp"].(string)

	if r.cfg.Issuer != "" && iss != r.cfg.Issuer {
		return domain.Principal{}, &ErrForbidden{Reason: "issuer mismatch"}
	}
	if r.cfg.Audience != "" && !containsStr(aud, r.cfg.Audience) {
		return domain.Principal{}, &ErrForbidden{Reason: "audience mismatch"}
	}

	roles := rolesFromClaims(claims, r.cfg.RolesClaim)

	return domain.Principal{
		Subject:         sub,
		Email:           email,
		Issuer:          iss,
		Audience:        r.cfg.Audience,
		AuthorizedParty: azp,
		Roles:           roles,
	}, nil
}

func rolesFromClaims(claims jwt.MapClaims, rolesClaim string) []string {
	raw, ok := claims[rolesClaim]
	if !ok {
		return nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	roles := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			roles = append(roles, s)
		}
	}
	return roles
}

func audienceOf(raw interface{}) []string {
	switch v := raw.(type) {
	case string:
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func containsStr(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func errString(err error) string {
	if err == nil {
		return "invalid token"
	}
	return err.Error()
}
