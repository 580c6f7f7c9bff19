package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/sessionlink/internal/apperr"
	"github.com/mossy-p/sessionlink/internal/models"
)

const secret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func sign(t *testing.T, claims jwt.Claims, key string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func TestParseToken_ClaimVariants(t *testing.T) {
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))
	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   models.Party
	}{
		{"user_id", jwt.MapClaims{"user_id": "u1", "role": "patient", "exp": exp}, models.Party{ID: "u1", Role: models.RolePatient}},
		{"userId legacy role", jwt.MapClaims{"userId": "d1", "role": "doctor", "name": "Dr. Rao", "exp": exp}, models.Party{ID: "d1", Role: models.RoleClinician, Name: "Dr. Rao"}},
		{"id", jwt.MapClaims{"id": "u2", "role": "user", "exp": exp}, models.Party{ID: "u2", Role: models.RolePatient}},
		{"sub", jwt.MapClaims{"sub": "u3", "exp": exp}, models.Party{ID: "u3"}},
		{"precedence", jwt.MapClaims{"user_id": "a", "id": "b", "sub": "c", "exp": exp}, models.Party{ID: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			party, err := ParseToken(sign(t, tt.claims, secret), secret)
			require.NoError(t, err)
			assert.Equal(t, tt.want, party)
		})
	}
}

func TestParseToken_Rejects(t *testing.T) {
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))
	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", sign(t, jwt.MapClaims{"user_id": "u1", "exp": exp}, "other")},
		{"expired", sign(t, jwt.MapClaims{"user_id": "u1", "exp": jwt.NewNumericDate(time.Now().Add(-time.Hour))}, secret)},
		{"no id", sign(t, jwt.MapClaims{"role": "patient", "exp": exp}, secret)},
		{"garbage", "not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, secret)
			assert.ErrorIs(t, err, apperr.ErrInvalidToken)
		})
	}
}

func TestIssueToken_RoundTrip(t *testing.T) {
	in := models.Party{ID: "d1", Role: models.RoleClinician, Name: "Dr. Rao"}
	token, err := IssueToken(in, secret, time.Hour)
	require.NoError(t, err)

	out, err := ParseToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func newRouter() *gin.Engine {
	r := gin.New()
	r.GET("/me", JWTAuth(secret), func(c *gin.Context) {
		party, ok := PartyFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, party)
	})
	r.GET("/internal", InternalKey("k3y"), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestJWTAuth(t *testing.T) {
	r := newRouter()
	token, err := IssueToken(models.Party{ID: "u1", Role: models.RolePatient}, secret, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		target string
		header string
		status int
	}{
		{"bearer header", "/me", "Bearer " + token, http.StatusOK},
		{"query param", "/me?token=" + token, "", http.StatusOK},
		{"missing", "/me", "", http.StatusUnauthorized},
		{"malformed header", "/me", "Token " + token, http.StatusUnauthorized},
		{"bad token", "/me", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Contains(t, w.Body.String(), `"id":"u1"`)
			}
		})
	}
}

func TestInternalKey(t *testing.T) {
	r := newRouter()

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req.Header.Set(InternalKeyHeader, "k3y")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/internal", nil)
	req.Header.Set(InternalKeyHeader, "wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestInternalKey_EmptyKeyDisablesRoutes(t *testing.T) {
	r := gin.New()
	r.GET("/internal", InternalKey(""), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
