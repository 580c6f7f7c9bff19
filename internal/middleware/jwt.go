package middleware

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mossy-p/sessionlink/internal/apperr"
	"github.com/mossy-p/sessionlink/internal/models"
)

const partyKey = "party"

// InternalKeyHeader carries the shared secret for collaborator-facing routes.
const InternalKeyHeader = "X-Internal-Key"

// Claims is the bearer token payload. Identity providers disagree on the id claim,
// so user_id, userId, id and sub are all accepted, in that order.
type Claims struct {
	UserID    string `json:"user_id,omitempty"`
	UserIDAlt string `json:"userId,omitempty"`
	LegacyID  string `json:"id,omitempty"`
	Role      string `json:"role,omitempty"`
	Name      string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// PartyID returns the first non-empty id claim.
func (c *Claims) PartyID() string {
	for _, id := range []string{c.UserID, c.UserIDAlt, c.LegacyID, c.Subject} {
		if id != "" {
			return id
		}
	}
	return ""
}

// ParseToken validates an HMAC-signed token and returns the party it names.
func ParseToken(tokenString, secret string) (models.Party, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return models.Party{}, apperr.ErrInvalidToken.WithCause(err)
	}

	id := claims.PartyID()
	if id == "" {
		return models.Party{}, apperr.ErrInvalidToken.WithCause(errors.New("token carries no party id"))
	}
	// An unknown role is kept empty; handlers that need one resolve it from the store.
	role, _ := models.ParseRole(claims.Role)
	return models.Party{ID: id, Role: role, Name: claims.Name}, nil
}

// IssueToken mints an HS256 token for party. Used by the dev token endpoint and CLI.
func IssueToken(party models.Party, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: party.ID,
		Role:   string(party.Role),
		Name:   party.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   party.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// BearerToken extracts the token from "Authorization: Bearer <token>", falling
// back to the token query parameter browsers use for websocket upgrades.
func BearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Query("token")
}

// JWTAuth rejects requests without a valid bearer token and stores the party in the context.
func JWTAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := BearerToken(c)
		if tokenString == "" {
			apperr.Respond(c, apperr.ErrUnauthorized)
			return
		}

		party, err := ParseToken(tokenString, jwtSecret)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.Set(partyKey, party)
		c.Next()
	}
}

// PartyFrom returns the party set by JWTAuth.
func PartyFrom(c *gin.Context) (models.Party, bool) {
	v, ok := c.Get(partyKey)
	if !ok {
		return models.Party{}, false
	}
	party, ok := v.(models.Party)
	return party, ok
}

// InternalKey guards collaborator routes with a shared key. An empty key disables them.
func InternalKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(InternalKeyHeader)
		if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			apperr.Respond(c, apperr.ErrUnauthorized)
			return
		}
		c.Next()
	}
}
