package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/askmygarmin/backend/garmin"
	"github.com/askmygarmin/backend/service"
)

const credentialKey = "garminCredential"

// AuthMiddleware decrypts and decodes the bearer token into a provider
// credential on the request context. Each request pays the decrypt; no
// decrypted credential is cached anywhere server-side.
func AuthMiddleware(auth *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing session token"})
			return
		}

		cred, err := auth.RestoreCredential(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
			return
		}

		c.Set(credentialKey, cred)
		c.Next()
	}
}

// bearerToken extracts the token from the Authorization header, or ""
// when the header is absent or malformed.
func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return auth[7:]
	}
	return ""
}

// credentialFrom returns the credential placed by AuthMiddleware, or nil.
func credentialFrom(c *gin.Context) *garmin.Credential {
	v, ok := c.Get(credentialKey)
	if !ok {
		return nil
	}
	cred, _ := v.(*garmin.Credential)
	return cred
}
