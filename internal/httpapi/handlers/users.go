package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/song-pt/TongAI/internal/common"
	"github.com/song-pt/TongAI/internal/gate"
	"github.com/song-pt/TongAI/internal/httpapi/middleware"
)

type loginReq struct {
	Code     string `json:"code"`
	DeviceID string `json:"device_id"`
	Location string `json:"location"`
}

// Login signs a device in with an access key. A missing device_id gets a generated one,
// which the client must send back as X-Device-ID.
func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	id, err := gate.LoadOrCreate(req.Code, req.DeviceID)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, "access key required")
		return
	}

	ctx := c.Request.Context()
	ok, err := h.Gate.Login(ctx, id, gate.DeviceInfo{UserAgent: c.Request.UserAgent(), Location: req.Location})
	if err != nil {
		log.Printf("login failed request_id=%s key=%s err=%v", c.GetString(middleware.RequestIDKey), id.KeyCode, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "db error")
		return
	}
	if !ok {
		if st, err := h.Gate.State(ctx, id); err == nil && st == gate.StateBanned {
			common.Fail(c, http.StatusForbidden, 40302, "device banned")
			return
		}
		common.Fail(c, http.StatusForbidden, 40301, "access key invalid or disabled")
		return
	}

	common.OK(c, gin.H{
		"key_code":  id.KeyCode,
		"device_id": id.DeviceID,
	})
}

const imageKeyRejected = "无效的图片密钥或配额已满"

type verifyImageKeyReq struct {
	ImageCode string `json:"image_code"`
}

func (h *Handler) VerifyImageKey(c *gin.Context) {
	id, ok := identityFromContext(c)
	if !ok {
		return
	}
	var req verifyImageKeyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	code := strings.TrimSpace(req.ImageCode)
	linked, err := h.Gate.VerifyImageKey(c.Request.Context(), code, id)
	if err != nil && !errors.Is(err, gate.ErrBadIdentity) {
		log.Printf("verify image key failed request_id=%s key=%s err=%v", c.GetString(middleware.RequestIDKey), id.KeyCode, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "db error")
		return
	}
	if !linked {
		common.Fail(c, http.StatusForbidden, 40303, imageKeyRejected)
		return
	}
	common.OK(c, gin.H{"image_key": code})
}
