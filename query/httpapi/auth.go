package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MrEthical07/goAudit/jwt"
)

const operatorCtxKey = "operator"

// TokenParser verifies operator tokens.
type TokenParser interface {
	ParseOperator(token string) (*jwt.OperatorClaims, error)
}

// RequireScope rejects requests without a valid bearer token granting scope.
// Missing or invalid tokens get 401; a valid token lacking scope gets 403.
func RequireScope(tokens TokenParser, scope string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		claims, err := tokens.ParseOperator(raw)
		if err != nil {
			logger.Warn("operator token rejected",
				zap.String("path", c.FullPath()),
				zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if !claims.HasScope(scope) {
			logger.Warn("operator token missing scope",
				zap.String("operator", claims.Subject),
				zap.String("scope", scope))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Set(operatorCtxKey, claims.Subject)
		c.Next()
	}
}

// Operator returns the authenticated operator subject.
func Operator(c *gin.Context) string {
	v, _ := c.Get(operatorCtxKey)
	s, _ := v.(string)
	return s
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
