package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIs_MatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("ensure room: %w", ErrNotApproved)
	assert.True(t, errors.Is(wrapped, ErrNotApproved))
	assert.False(t, errors.Is(wrapped, ErrNotConnected))

	withCause := ErrStoreUnavailable.WithCause(errors.New("dial tcp: refused"))
	assert.True(t, errors.Is(withCause, ErrStoreUnavailable))
	assert.Contains(t, withCause.Error(), "dial tcp")
	assert.Nil(t, ErrStoreUnavailable.Cause, "WithCause must not mutate the sentinel")
}

func TestAuthorizationFailuresHaveDistinctReasons(t *testing.T) {
	failures := []*Error{ErrPartnerNotFound, ErrNotConnected, ErrNotApproved, ErrSelfCall}
	seen := map[string]bool{}
	for _, f := range failures {
		assert.Equal(t, KindAuthorization, f.Kind)
		assert.False(t, seen[f.Message], "duplicate reason %q", f.Message)
		seen[f.Message] = true
	}
}

func TestRespond(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"partner not found", ErrPartnerNotFound, http.StatusNotFound, "partner_not_found"},
		{"not connected", ErrNotConnected, http.StatusForbidden, "not_connected"},
		{"self call", ErrSelfCall, http.StatusBadRequest, "cannot_call_self"},
		{"store down", Unavailable(errors.New("boom")), http.StatusServiceUnavailable, "store_unavailable"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			Respond(c, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			var body Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Code)
			assert.NotContains(t, body.Error, "boom")
		})
	}
}
