package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/pacfleet/pacfleet/pkg/config"
	"github.com/pacfleet/pacfleet/pkg/errdefs"
	"github.com/pacfleet/pacfleet/pkg/log"
	"github.com/pacfleet/pacfleet/pkg/storage"
	"github.com/pacfleet/pacfleet/pkg/types"
)

const tokenIssuer = "pacfleet"

// Identity is the authenticated caller of a request.
type Identity struct {
	// EndpointID is set for endpoint tokens; empty for admin tokens.
	EndpointID string
	Admin      bool
}

// Manager issues and verifies endpoint bearer tokens and recognises the
// configured admin tokens. Endpoint tokens are signed JWTs carrying the
// endpoint id and an expiry; only a hash of the issued token is stored, so
// re-registration rotates credentials by overwriting the hash.
type Manager struct {
	store       *storage.Store
	secret      []byte
	ttl         time.Duration
	adminTokens []string
	logger      zerolog.Logger
}

// NewManager builds an auth manager from the security configuration. With
// no signing secret configured a random one is generated, which invalidates
// all endpoint tokens on restart.
func NewManager(store *storage.Store, cfg config.Security) *Manager {
	logger := log.WithComponent("auth")

	secret := []byte(cfg.AuthTokenSigningSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		_, _ = rand.Read(secret)
		logger.Warn().Msg("no token signing secret configured; endpoint tokens will not survive a restart")
	}

	ttl := cfg.TokenTTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	return &Manager{
		store:       store,
		secret:      secret,
		ttl:         ttl,
		adminTokens: cfg.AdminTokens,
		logger:      logger,
	}
}

// Register creates an endpoint for (name, hostname) and returns it with a
// plaintext bearer token. The token is returned exactly once; only its hash
// is stored. Registering an existing (name, hostname) pair rotates the
// token, invalidating the previous one.
func (m *Manager) Register(ctx context.Context, name, hostname string) (*types.Endpoint, string, error) {
	name = strings.TrimSpace(name)
	hostname = strings.TrimSpace(hostname)
	if name == "" {
		return nil, "", errdefs.Validation.New("endpoint name is required")
	}
	if hostname == "" {
		return nil, "", errdefs.Validation.New("endpoint hostname is required")
	}

	existing, err := m.store.GetEndpointByNameHost(ctx, name, hostname)
	if err != nil && !errdefs.NotFound.Has(err) {
		return nil, "", err
	}

	if existing != nil {
		token, err := m.issueToken(existing.ID)
		if err != nil {
			return nil, "", err
		}
		existing.AuthTokenHash = hashToken(token)
		if err := m.store.UpdateEndpoint(ctx, existing); err != nil {
			return nil, "", err
		}
		m.logger.Info().Str("endpoint_id", existing.ID).Msg("endpoint token rotated")
		return existing, token, nil
	}

	e := &types.Endpoint{
		ID:         types.NewID(),
		Name:       name,
		Hostname:   hostname,
		SyncStatus: types.SyncStatusOffline,
	}
	token, err := m.issueToken(e.ID)
	if err != nil {
		return nil, "", err
	}
	e.AuthTokenHash = hashToken(token)

	if err := m.store.CreateEndpoint(ctx, e); err != nil {
		return nil, "", err
	}
	m.logger.Info().Str("endpoint_id", e.ID).Str("name", name).Str("hostname", hostname).Msg("endpoint registered")
	return e, token, nil
}

// Authenticate resolves a bearer token to an identity. Admin tokens are
// checked first; everything else must be a valid, unexpired endpoint JWT
// whose hash still matches the stored one.
func (m *Manager) Authenticate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, errdefs.Auth.New("missing bearer token")
	}

	for _, admin := range m.adminTokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(admin)) == 1 {
			return &Identity{Admin: true}, nil
		}
	}

	endpointID, err := m.verifyToken(token)
	if err != nil {
		return nil, err
	}

	e, err := m.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		if errdefs.NotFound.Has(err) {
			return nil, errdefs.Auth.New("unknown endpoint")
		}
		return nil, err
	}

	// Rotation overwrites the stored hash; an older still-unexpired token
	// must stop working at that point.
	if subtle.ConstantTimeCompare([]byte(hashToken(token)), []byte(e.AuthTokenHash)) != 1 {
		return nil, errdefs.Auth.New("token has been rotated")
	}
	return &Identity{EndpointID: e.ID}, nil
}

// AuthorizeSelf checks that the caller may act on the target endpoint.
// Admins may act on any endpoint; endpoint tokens only on themselves.
func (m *Manager) AuthorizeSelf(id *Identity, targetEndpointID string) error {
	if id == nil {
		return errdefs.Auth.New("missing identity")
	}
	if id.Admin {
		return nil
	}
	if id.EndpointID != targetEndpointID {
		return errdefs.Forbidden.New("token is not valid for endpoint %s", targetEndpointID)
	}
	return nil
}

// RequireAdmin checks that the caller holds an admin token.
func (m *Manager) RequireAdmin(id *Identity) error {
	if id == nil {
		return errdefs.Auth.New("missing identity")
	}
	if !id.Admin {
		return errdefs.Forbidden.New("admin token required")
	}
	return nil
}

func (m *Manager) issueToken(endpointID string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   endpointID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", errdefs.Internal.Wrap(err)
	}
	return token, nil
}

func (m *Manager) verifyToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errdefs.Auth.New("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", errdefs.Auth.New("invalid token: %v", err)
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errdefs.Auth.New("token carries no endpoint identity")
	}
	return claims.Subject, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
