package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"pdiquest/internal/logger"
	"pdiquest/internal/repo"
)

type AuthConfig struct {
	JWTSecret              string
	AllowLegacyActorHeader bool
	// DevLogin exposes POST /auth/dev/login, which mints tokens without credentials.
	DevLogin bool
	Logger   *logger.Logger
	// Now stamps API key usage; defaults to time.Now.
	Now func() time.Time
}

func (c AuthConfig) log() *logger.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logger.Nop()
}

func (c AuthConfig) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// CredentialSource says how a request proved who it acts for.
type CredentialSource string

const (
	SourceToken        CredentialSource = "token"
	SourceAPIKey       CredentialSource = "api_key"
	SourceLegacyHeader CredentialSource = "legacy_header"
)

// Principal is the authenticated actor. Roles and Permissions are only set
// for tokens; API keys and the legacy header rely on stored grants.
type Principal struct {
	ActorID     string
	Roles       []string
	Permissions []string
	Source      CredentialSource
	KeyID       string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func actorIDFromContext(ctx context.Context) (string, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.ActorID != "" {
		return p.ActorID, nil
	}
	return "", newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

const (
	devTokenIssuer = "pdiquest-dev"
	devTokenTTL    = 12 * time.Hour
)

var errNoSecret = errors.New("jwt secret not configured")

// questClaims is the pdiquest bearer token body. Roles and permissions ride
// along so a token can act without stored grants.
type questClaims struct {
	jwt.RegisteredClaims
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// devClaims builds the claims for a locally minted token.
func devClaims(actorID string, roles, permissions []string, now time.Time) questClaims {
	return questClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			Issuer:    devTokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(devTokenTTL)),
		},
		Roles:       roles,
		Permissions: permissions,
	}
}

func (c questClaims) sign(secret string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errNoSecret
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

func (c questClaims) principal() (Principal, error) {
	if strings.TrimSpace(c.Subject) == "" {
		return Principal{}, errors.New("token has no subject")
	}
	return Principal{
		ActorID:     c.Subject,
		Roles:       c.Roles,
		Permissions: c.Permissions,
		Source:      SourceToken,
	}, nil
}

func parseQuestToken(token, secret string) (questClaims, error) {
	if strings.TrimSpace(secret) == "" {
		return questClaims{}, errNoSecret
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	var claims questClaims
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}); err != nil {
		return questClaims{}, err
	}
	return claims, nil
}

// authenticator resolves request credentials into a Principal.
type authenticator struct {
	cfg  AuthConfig
	repo repo.Repo
}

var (
	errNoCredentials  = errors.New("no credentials")
	errBadCredentials = errors.New("invalid credentials")
)

// authenticate tries a bearer token, then X-Api-Key, then X-Actor-Id when allowed.
func (a authenticator) authenticate(req *http.Request) (Principal, error) {
	if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
		return a.fromToken(authz)
	}
	if key := strings.TrimSpace(req.Header.Get("X-Api-Key")); key != "" {
		return a.fromAPIKey(req.Context(), key)
	}
	if actor := strings.TrimSpace(req.Header.Get("X-Actor-Id")); actor != "" && a.cfg.AllowLegacyActorHeader {
		a.cfg.log().Warn("legacy X-Actor-Id header used without credentials", "actor_id", actor, "path", req.URL.Path)
		return Principal{ActorID: actor, Source: SourceLegacyHeader}, nil
	}
	return Principal{}, errNoCredentials
}

func (a authenticator) fromToken(authz string) (Principal, error) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return Principal{}, errBadCredentials
	}
	claims, err := parseQuestToken(parts[1], a.cfg.JWTSecret)
	if err != nil {
		a.cfg.log().Debug("token rejected", "error", err)
		return Principal{}, errBadCredentials
	}
	p, err := claims.principal()
	if err != nil {
		return Principal{}, errBadCredentials
	}
	return p, nil
}

// fromAPIKey accepts active keys only and stamps their last use. A failed
// stamp is logged and does not fail the request.
func (a authenticator) fromAPIKey(ctx context.Context, key string) (Principal, error) {
	apiKey, err := a.repo.FindActiveAPIKey(ctx, repo.HashAPIKey(key))
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			a.cfg.log().Error("api key lookup failed", "error", err)
		}
		return Principal{}, errBadCredentials
	}
	if err := a.repo.TouchAPIKey(ctx, apiKey.ID, a.cfg.now().UTC()); err != nil {
		a.cfg.log().Warn("api key last use not recorded", "key_id", apiKey.ID, "error", err)
	}
	return Principal{ActorID: apiKey.ActorID, Source: SourceAPIKey, KeyID: apiKey.ID}, nil
}

func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo) func(http.Handler) http.Handler {
	devLoginPath := path.Join(basePath, "auth/dev/login")
	openPaths := map[string]bool{
		path.Join(basePath, "health"):       true,
		path.Join(basePath, "openapi.json"): true,
	}
	a := authenticator{cfg: cfg, repo: r}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if openPaths[req.URL.Path] || (cfg.DevLogin && req.URL.Path == devLoginPath) {
				next.ServeHTTP(w, req)
				return
			}
			principal, err := a.authenticate(req)
			switch {
			case errors.Is(err, errNoCredentials):
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			case err != nil:
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
