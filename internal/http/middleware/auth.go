package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-consult-chat/internal/auth"
	"github.com/tbourn/go-consult-chat/internal/domain"
)

// Context keys set by Authenticate. "userID" carries the canonical
// "<role>:<id>" string and is read by the rate limiter and idempotency check.
const (
	ctxKeyParticipant = "participant"
	ctxKeyIdentity    = "userID"
)

// Authenticate verifies the Authorization bearer credential of every request
// and stores the resulting participant in the context.
//
// A rejected credential yields 401 unauthorized with a WWW-Authenticate
// challenge. When the verifier itself is unavailable the request gets 503
// unavailable with Retry-After, since the credential may well be valid.
func Authenticate(v auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := auth.FromHeader(c.GetHeader("Authorization"))
		p, err := v.Verify(c.Request.Context(), tok)
		if err != nil {
			rid := c.Writer.Header().Get(requestIDHeader)
			if errors.Is(err, auth.ErrUnauthenticated) {
				httpAuthFailures.WithLabelValues("rejected").Inc()
				c.Header("WWW-Authenticate", `Bearer realm="consult-chat"`)
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"request_id": rid,
					"code":       "unauthorized",
					"message":    "missing or invalid credential",
				})
				return
			}
			httpAuthFailures.WithLabelValues("unavailable").Inc()
			LoggerFrom(c).Warn().Err(err).Msg("credential check failed")
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"request_id": rid,
				"code":       "unavailable",
				"message":    "credential check unavailable, retry later",
			})
			return
		}
		c.Set(ctxKeyParticipant, p.Participant)
		c.Set(ctxKeyIdentity, p.Participant.String())
		c.Next()
	}
}

// ParticipantFrom returns the participant stored by Authenticate.
func ParticipantFrom(c *gin.Context) (domain.Participant, bool) {
	v, ok := c.Get(ctxKeyParticipant)
	if !ok {
		return domain.Participant{}, false
	}
	p, ok := v.(domain.Participant)
	return p, ok && !p.IsZero()
}

// identityFromCtx returns the canonical identity string or "" when the
// request is not authenticated.
func identityFromCtx(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyIdentity); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
