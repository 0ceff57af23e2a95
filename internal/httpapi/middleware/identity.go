package middleware

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/song-pt/TongAI/internal/common"
	"github.com/song-pt/TongAI/internal/gate"
)

const (
	IdentityKey     = "identity"
	AccessKeyHeader = "X-Access-Key"
	DeviceIDHeader  = "X-Device-ID"
)

// IdentityRequired authorizes the (access key, device id) pair carried in the request headers.
func IdentityRequired(g *gate.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := gate.Identity{KeyCode: c.GetHeader(AccessKeyHeader), DeviceID: c.GetHeader(DeviceIDHeader)}
		if err := id.Validate(); err != nil {
			common.Fail(c, http.StatusUnauthorized, 40101, "access key and device id required")
			c.Abort()
			return
		}

		err := g.Authorize(c.Request.Context(), id)
		switch {
		case err == nil:
		case errors.Is(err, gate.ErrUnregistered):
			common.Fail(c, http.StatusUnauthorized, 40102, "login required")
			c.Abort()
			return
		case errors.Is(err, gate.ErrKeyRejected):
			common.Fail(c, http.StatusForbidden, 40301, "access key invalid or disabled")
			c.Abort()
			return
		case errors.Is(err, gate.ErrDeviceBanned):
			common.Fail(c, http.StatusForbidden, 40302, "device banned")
			c.Abort()
			return
		default:
			log.Printf("authorize failed request_id=%s key=%s device=%s err=%v",
				c.GetString(RequestIDKey), id.KeyCode, id.DeviceID, err)
			common.Fail(c, http.StatusInternalServerError, 50001, "db error")
			c.Abort()
			return
		}

		c.Set(IdentityKey, id)
		c.Next()
	}
}

func IdentityFromContext(c *gin.Context) (gate.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return gate.Identity{}, false
	}
	id, ok := v.(gate.Identity)
	return id, ok
}
