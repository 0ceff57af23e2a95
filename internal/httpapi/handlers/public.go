package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/song-pt/TongAI/internal/common"
)

func (h *Handler) GetApp(c *gin.Context) {
	common.OK(c, h.Settings.App(c.Request.Context()))
}

func (h *Handler) ListSubjects(c *gin.Context) {
	subjects, err := h.Repo.ListSubjects(c.Request.Context(), true)
	if err != nil {
		storeFail(c, err, "")
		return
	}
	common.OK(c, subjects)
}

func (h *Handler) ListLevels(c *gin.Context) {
	levels, err := h.Repo.ListLevels(c.Request.Context(), true)
	if err != nil {
		storeFail(c, err, "")
		return
	}
	common.OK(c, levels)
}
