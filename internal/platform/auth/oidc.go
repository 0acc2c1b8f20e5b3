package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OIDCProvider holds the fields of an OpenID Connect discovery document
// the server cares about.
type OIDCProvider struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// NewOIDCProvider loads the discovery document published under
// /.well-known/openid-configuration on the issuer. Keycloak, Auth0, Okta
// and Azure AD all serve this document, so no provider-specific
// configuration is needed beyond the issuer URL.
func NewOIDCProvider(issuerURL string) (*OIDCProvider, error) {
	url := strings.TrimRight(issuerURL, "/") + "/.well-known/openid-configuration"

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch OIDC discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OIDC discovery returned status %d", resp.StatusCode)
	}

	var p OIDCProvider
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode OIDC discovery document: %w", err)
	}
	if p.JWKSURI == "" {
		return nil, fmt.Errorf("OIDC discovery document has no jwks_uri")
	}
	return &p, nil
}

// jwk is one signing key from a JWKS document. Only RSA keys are used.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// publicKey decodes the base64url modulus and exponent into an RSA key.
func (k jwk) publicKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("jwk modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("jwk exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(e).Int64()),
	}, nil
}

// keyCache holds the signing keys of one JWKS endpoint. A lookup for a
// kid that is missing or older than the TTL refreshes the whole set; the
// refresh runs under the lock, so concurrent misses cause one fetch.
type keyCache struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
}

func newKeyCache(url string, ttl time.Duration) *keyCache {
	return &keyCache{
		url:    url,
		ttl:    ttl,
		client: &http.Client{Timeout: 10 * time.Second},
		keys:   map[string]*rsa.PublicKey{},
	}
}

// key returns the RSA public key for kid. A kid still unknown after a
// refresh means the token was signed with a key the endpoint no longer
// publishes.
func (c *keyCache) key(kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.keys[kid] == nil || time.Since(c.fetched) > c.ttl {
		if err := c.refresh(); err != nil {
			return nil, fmt.Errorf("refresh JWKS: %w", err)
		}
	}
	key := c.keys[kid]
	if key == nil {
		return nil, fmt.Errorf("JWKS has no key %q", kid)
	}
	return key, nil
}

// refresh replaces the key set from the endpoint. Callers hold c.mu.
func (c *keyCache) refresh() error {
	resp, err := c.client.Get(c.url)
	if err != nil {
		return fmt.Errorf("GET %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode JWKS document: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			continue // unusable key
		}
		keys[k.Kid] = pub
	}

	c.keys = keys
	c.fetched = time.Now()
	return nil
}

// jwksCacheTTL bounds how long signing keys are trusted without a re-fetch.
const jwksCacheTTL = 5 * time.Minute

// jwksKeyFunc adapts a keyCache to the jwt parser. Tokens must carry a
// kid header naming their signing key.
func jwksKeyFunc(jwksURL string) jwt.Keyfunc {
	cache := newKeyCache(jwksURL, jwksCacheTTL)
	return func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return cache.key(kid)
	}
}
