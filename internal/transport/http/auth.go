package http

import (
	"fmt"
	"net/http"
	"strings"

	"buzzer-quiz-service/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// IdentityResolver supplies the verified caller of a request.
type IdentityResolver interface {
	Resolve(r *http.Request) (domain.Identity, error)
}

// Claims are the token fields the engine trusts.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
	Role string `json:"role"`
}

// JWTResolver verifies HS256 tokens from the Authorization header or, for
// browsers opening a WebSocket, the token query parameter.
type JWTResolver struct {
	secret []byte
}

func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

func (j *JWTResolver) Resolve(r *http.Request) (domain.Identity, error) {
	raw := bearerToken(r)
	if raw == "" {
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		return domain.Identity{}, fmt.Errorf("%w: token required", domain.ErrUnauthorized)
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return domain.Identity{}, fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	}
	return domain.Identity{UserID: claims.Subject, DisplayName: claims.Name, Role: parseRole(claims.Role)}, nil
}

// Sign issues a token for who. Used by tests and local tooling.
func (j *JWTResolver) Sign(who domain.Identity, opts ...func(*Claims)) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: who.UserID},
		Name:             who.DisplayName,
		Role:             string(who.Role),
	}
	for _, opt := range opts {
		opt(&claims)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// QueryResolver trusts userId, name and role query parameters. It is only
// wired when no JWT secret is configured.
type QueryResolver struct{}

func (QueryResolver) Resolve(r *http.Request) (domain.Identity, error) {
	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("userId"))
	if userID == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing userId", domain.ErrUnauthorized)
	}
	return domain.Identity{UserID: userID, DisplayName: q.Get("name"), Role: parseRole(q.Get("role"))}, nil
}

func parseRole(raw string) domain.Role {
	if strings.EqualFold(raw, string(domain.RoleAdmin)) {
		return domain.RoleAdmin
	}
	return domain.RolePlayer
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
