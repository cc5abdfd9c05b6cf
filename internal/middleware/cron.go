package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/stockalert-api/pkg/httputil"
)

const HeaderCronSecret = "X-Cron-Secret"

// CronSecret guards scheduler-triggered endpoints. The caller presents the shared
// secret as a bearer token or in X-Cron-Secret. An unset secret is a server fault
// and is reported before the caller's credentials are looked at.
func CronSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			log.Error().Str("path", c.Request.URL.Path).Msg("CRON_SECRET is not configured")
			httputil.AbortWithError(c, http.StatusInternalServerError, "Server misconfigured")
			return
		}

		presented, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			presented = c.GetHeader(HeaderCronSecret)
		}
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
			log.Warn().
				Str("path", c.Request.URL.Path).
				Str("client_ip", c.ClientIP()).
				Msg("Rejected cron trigger")
			httputil.AbortWithError(c, http.StatusUnauthorized, "Unauthorized")
			return
		}
		c.Next()
	}
}
