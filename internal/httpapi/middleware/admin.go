package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/song-pt/TongAI/internal/auth"
	"github.com/song-pt/TongAI/internal/common"
)

const AdminSubjectKey = "admin_subject"

type TokenParser interface {
	ParseToken(token string) (*auth.Claims, error)
}

func AdminRequired(p TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(h, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			common.Fail(c, http.StatusUnauthorized, 40103, "missing bearer token")
			c.Abort()
			return
		}
		claims, err := p.ParseToken(strings.TrimSpace(token))
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40104, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(AdminSubjectKey, claims.Subject)
		c.Next()
	}
}
