package apperr

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Response is the JSON body of every error reply. Cause details never leave the server.
type Response struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Respond writes err as a JSON error and aborts the gin chain.
func Respond(c *gin.Context, err error) {
	e, ok := As(err)
	if !ok {
		log.Error().Err(err).Str("module", "apperr").Str("path", c.FullPath()).Msg("unhandled error")
		c.AbortWithStatusJSON(http.StatusInternalServerError, Response{
			Error: "An internal error occurred",
			Code:  "internal_error",
		})
		return
	}
	if e.Kind == KindUnavailable {
		log.Warn().Err(e.Cause).Str("module", "apperr").Str("path", c.FullPath()).Msg("collaborator unavailable")
	}
	c.AbortWithStatusJSON(e.Status, Response{Error: e.Message, Code: e.Code})
}
