package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/song-pt/TongAI/internal/admin"
	"github.com/song-pt/TongAI/internal/common"
	"github.com/song-pt/TongAI/internal/store"
)

// optionalLimit tells an absent field (unchanged) apart from null (unlimited).
type optionalLimit struct {
	Set   bool
	Value *int64
}

func (o *optionalLimit) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Value = nil
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	o.Value = &n
	return nil
}

func parseID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		common.Fail(c, http.StatusBadRequest, 10008, "invalid id")
		return 0, false
	}
	return id, true
}

type adminLoginReq struct {
	Password string `json:"password"`
}

func (h *Handler) AdminLogin(c *gin.Context) {
	var req adminLoginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	token, err := h.AdminSvc.Login(c.Request.Context(), req.Password)
	if err != nil {
		if errors.Is(err, admin.ErrBadPassword) {
			common.Fail(c, http.StatusUnauthorized, 40105, "invalid password")
			return
		}
		storeFail(c, err, "")
		return
	}
	common.OK(c, gin.H{
		"token":      token,
		"expires_in": int(admin.TokenTTL.Seconds()),
	})
}

func (h *Handler) AdminUpdatePassword(c *gin.Context) {
	var req adminLoginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.AdminSvc.UpdatePassword(c.Request.Context(), req.Password); err != nil {
		storeFail(c, err, "")
		return
	}
	common.OK(c, nil)
}

// access keys

type createKeyReq struct {
	Code  string `json:"code"`
	Note  string `json:"note"`
	Limit *int64 `json:"limit"`
}

type patchKeyReq struct {
	IsActive *bool         `json:"is_active"`
	Force    bool          `json:"force"`
	Limit    optionalLimit `json:"limit"`
}

func (h *Handler) AdminListKeys(c *gin.Context) {
	keys, err := h.Repo.ListKeys(c.Request.Context())
	if err != nil {
		storeFail(c, err, "")
		return
	}
	common.OK(c, keys)
}

func (h *Handler) AdminCreateKey(c *gin.Context) {
	var req createKeyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	k, err := h.AdminSvc.CreateKey(c.Request.Context(), req.Code, req.Note, req.Limit)
	if err != nil {
		storeFail(c, err, "")
		return
	}
	common.OK(c, k)
}

func (h *Handler) AdminPatchKey(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req patchKeyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	ctx := c.Request.Context()

	// the limit goes first so raising it can make a reactivation legal
	if req.Limit.Set {
		if req.Limit.Value != nil && *req.Limit.Value < 0 {
			storeFail(c, admin.ErrNegativeLimit, "")
			return
		}
		if err := h.Repo.SetKeyLimit(ctx, id, req.Limit.Value); err != nil {
			storeFail(c, err, "key not found")
			return
		}
	}
	if req.IsActive != nil {
		if err := h.AdminSvc.SetKeyActive(ctx, id, *req.IsActive, req.Force); err != nil {
			storeFail(c, err, "key not found")
			return
		}
	}

	k, err := h.Repo.GetKeyByID(ctx, id)
	if err != nil {
		storeFail(c, err, "key not found")
		return
	}
	common.OK(c, k)
}

func (h *Handler) AdminDeleteKey(c *gin.Context) {
	if err := h.Repo.DeleteKey(c.Request.Context(), c.Param("code")); err != nil {
		storeFail(c, err, "key not found")
		return
	}
	common.OK(c, nil)
}

// image keys

func (h *Handler) AdminListImageKeys(c *gin.Context) {
	keys, err := h.Repo.ListImageKeys(c.Request.Context())
	if err != nil {
		storeFail(c, err, "")
		return
	}
	common.OK(c, keys)
}

func (h *Handler) AdminCreateImageKey(c *gin.Context) {
	var req createKeyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	k, err := h.AdminSvc.CreateImageKey(c.Request.Context(), req.Code, req.Note, req.Limit)
	if err != nil {
		storeFail(c, err, "")
		return
	}
	common.OK(c, k)
}

func (h *Handler) AdminPatchImageKey(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req patchKeyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	ctx := c.Request.Context()

	if req.Limit.Set {
		if req.Limit.Value != nil && *req.Limit.Value < 0 {
			storeFail(c, admin.ErrNegativeLimit, "")
			return
		}
		if err := h.Repo.SetImageKeyLimit(ctx, id, req.Limit.Value); err != nil {
			storeFail(c, err, "image key not found")
			return
		}
	}
	if req.IsActive != nil {
		if err := h.AdminSvc.SetImageKeyActive(ctx, id, *req.IsActive, req.Force); err != nil {
			storeFail(c, err, "image key not found")
			return
		}
	}

	k, err := h.Repo.GetImageKeyByID(ctx, id)
	if err != nil {
		storeFail(c, err, "image key not found")
		return
	}
	common.OK(c, k)
}

func (h *Handler) AdminDeleteImageKey(c *gin.Context) {
	if err := h.Repo.DeleteImageKey(c.Request.Context(), c.Param("code")); err != nil {
		storeFail(c, err, "image key not found")
		return
	}
	common.OK(c, nil)
}

// devices and history

func (h *Handler) AdminListDevices(c *gin.Context) {
	devices, err := h.Repo.ListDevices(c.Request.Context(), c.Query("key"))
	if err != nil {
		storeFail(c, err, "")
		return
	}
	common.OK(c, devices)
}

type banDeviceReq struct {
	KeyCode  string `json:"key_code"`
	DeviceID string `json:"device_id"`
	Banned   bool   `json:"banned"`
}

func (h *Handler) AdminBanDevice(c *gin.Context) {
	var req banDeviceReq
	if err := c.ShouldBindJSON(&req); err != nil || req.KeyCode == "" || req.DeviceID == "" {
		common.Fail(c, http.StatusBadRequest, 10001, "key_code and device_id required")
		return
	}
	if err := h.Repo.SetDeviceBan(c.Request.Context(), req.KeyCode, req.DeviceID, req.Banned); err != nil {
		storeFail(c, err, "device not found")
		return
	}
	common.OK(c, gin.H{"banned": req.Banned})
}

func (h *Handler) AdminHistory(c *gin.Context) {
	filter := store.HistoryFilter(c.DefaultQuery("filter", string(store.FilterByKey)))
	value := strings.TrimSpace(c.Query("value"))
	if (filter != store.FilterByKey && filter != store.FilterByDevice) || value == "" {
		common.Fail(c, http.StatusBadRequest, 10009, "filter must be key or device and value is required")
		return
	}
	items, err := h.Repo.ListHistory(c.Request.Context(), filter, value)
	if err != nil {
		storeFail(c, err, "")
		return
	}
	common.OK(c, items)
}

// subjects and levels

var (
	subjectColumns = []string{"label", "color", "icon", "prompt_prefix", "background_chars",
		"char_opacity", "char_size_scale", "is_active", "sort_order"}
	levelColumns = []string{"label", "sort_order", "is_active"}
)

func pickColumns(in map[string]any, allowed []string) map[string]any {
	out := make(map[string]any, len(in))
	for _, col := range allowed {
		if v, ok := in[col]; ok {
			out[col] = v
		}
	}
	return out
}

type createSubjectReq struct {
	store.Subject
	IsActive *bool `json:"is_active"`
}

func (h *Handler) AdminListSubjects(c *gin.Context) {
	subjects, err := h.Repo.ListSubjects(c.Request.Context(), false)
	if err != nil {
		storeFail(c, err, "")
		return
	}
	common.OK(c, subjects)
}

func (h *Handler) AdminCreateSubject(c *gin.Context) {
	var req createSubjectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	s := req.Subject
	s.Code = strings.TrimSpace(s.Code)
	if s.Code == "" || strings.TrimSpace(s.Label) == "" {
		common.Fail(c, http.StatusBadRequest, 10010, "code and label required")
		return
	}
	if s.CharOpacity == 0 {
		s.CharOpacity = 0.1
	}
	if s.CharSizeScale == 0 {
		s.CharSizeScale = 1
	}
	s.IsActive = true
	ctx := c.Request.Context()
	if _, err := h.Repo.GetSubject(ctx, s.Code); err == nil {
		storeFail(c, admin.ErrCodeTaken, "")
		return
	}
	if err := h.Repo.CreateSubject(ctx, &s); err != nil {
		storeFail(c, err, "")
		return
	}
	// is_active has a column default, so an explicit false is applied after insert
	if req.IsActive != nil && !*req.IsActive {
		if err := h.Repo.UpdateSubject(ctx, s.Code, map[string]any{"is_active": false}); err != nil {
			storeFail(c, err, "")
			return
		}
		s.IsActive = false
	}
	common.OK(c, s)
}

func (h *Handler) AdminUpdateSubject(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	ctx := c.Request.Context()
	code := c.Param("code")
	if err := h.Repo.UpdateSubject(ctx, code, pickColumns(body, subjectColumns)); err != nil {
		storeFail(c, err, "subject not found")
		return
	}
	s, err := h.Repo.GetSubject(ctx, code)
	if err != nil {
		storeFail(c, err, "subject not found")
		return
	}
	common.OK(c, s)
}

func (h *Handler) AdminDeleteSubject(c *gin.Context) {
	if err := h.Repo.DeleteSubject(c.Request.Context(), c.Param("code")); err != nil {
		storeFail(c, err, "subject not found")
		return
	}
	common.OK(c, nil)
}

type createLevelReq struct {
	store.Level
	IsActive *bool `json:"is_active"`
}

func (h *Handler) AdminListLevels(c *gin.Context) {
	levels, err := h.Repo.ListLevels(c.Request.Context(), false)
	if err != nil {
		storeFail(c, err, "")
		return
	}
	common.OK(c, levels)
}

func (h *Handler) AdminCreateLevel(c *gin.Context) {
	var req createLevelReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	l := req.Level
	l.Code = strings.TrimSpace(l.Code)
	if l.Code == "" || strings.TrimSpace(l.Label) == "" {
		common.Fail(c, http.StatusBadRequest, 10010, "code and label required")
		return
	}
	l.IsActive = true
	ctx := c.Request.Context()
	if _, err := h.Repo.GetLevel(ctx, l.Code); err == nil {
		storeFail(c, admin.ErrCodeTaken, "")
		return
	}
	if err := h.Repo.CreateLevel(ctx, &l); err != nil {
		storeFail(c, err, "")
		return
	}
	if req.IsActive != nil && !*req.IsActive {
		if err := h.Repo.UpdateLevel(ctx, l.Code, map[string]any{"is_active": false}); err != nil {
			storeFail(c, err, "")
			return
		}
		l.IsActive = false
	}
	common.OK(c, l)
}

func (h *Handler) AdminUpdateLevel(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	ctx := c.Request.Context()
	code := c.Param("code")
	if err := h.Repo.UpdateLevel(ctx, code, pickColumns(body, levelColumns)); err != nil {
		storeFail(c, err, "level not found")
		return
	}
	l, err := h.Repo.GetLevel(ctx, code)
	if err != nil {
		storeFail(c, err, "level not found")
		return
	}
	common.OK(c, l)
}

func (h *Handler) AdminDeleteLevel(c *gin.Context) {
	if err := h.Repo.DeleteLevel(c.Request.Context(), c.Param("code")); err != nil {
		storeFail(c, err, "level not found")
		return
	}
	common.OK(c, nil)
}

// config

type setConfigReq struct {
	Value string `json:"value"`
}

func (h *Handler) AdminListConfig(c *gin.Context) {
	cfg, err := h.AdminSvc.ListConfig(c.Request.Context())
	if err != nil {
		storeFail(c, err, "")
		return
	}
	common.OK(c, cfg)
}

func (h *Handler) AdminSetConfig(c *gin.Context) {
	var req setConfigReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.AdminSvc.SetConfig(c.Request.Context(), c.Param("key"), req.Value); err != nil {
		storeFail(c, err, "")
		return
	}
	common.OK(c, nil)
}
