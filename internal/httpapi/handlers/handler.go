package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/song-pt/TongAI/internal/admin"
	"github.com/song-pt/TongAI/internal/chat"
	"github.com/song-pt/TongAI/internal/common"
	"github.com/song-pt/TongAI/internal/gate"
	"github.com/song-pt/TongAI/internal/httpapi/middleware"
	"github.com/song-pt/TongAI/internal/settings"
	"github.com/song-pt/TongAI/internal/store"
)

type Handler struct {
	Repo     *store.Repo
	Settings *settings.Resolver
	Gate     *gate.Gate
	ChatSvc  *chat.Service
	AdminSvc *admin.Service
}

func NewHandler(repo *store.Repo, st *settings.Resolver, g *gate.Gate, chatSvc *chat.Service, adminSvc *admin.Service) *Handler {
	return &Handler{Repo: repo, Settings: st, Gate: g, ChatSvc: chatSvc, AdminSvc: adminSvc}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func identityFromContext(c *gin.Context) (gate.Identity, bool) {
	id, ok := middleware.IdentityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "access key and device id required")
	}
	return id, ok
}

// storeFail maps repository errors onto the envelope. notFound is the 404 message.
func storeFail(c *gin.Context, err error, notFound string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40401, notFound)
	case errors.Is(err, admin.ErrWouldReban):
		common.Fail(c, http.StatusConflict, 40901, err.Error())
	case errors.Is(err, admin.ErrCodeTaken):
		common.Fail(c, http.StatusConflict, 40902, err.Error())
	case errors.Is(err, admin.ErrCodeAllocation):
		common.Fail(c, http.StatusInternalServerError, 50003, err.Error())
	case errors.Is(err, admin.ErrUnknownConfigKey):
		common.Fail(c, http.StatusBadRequest, 10005, err.Error())
	case errors.Is(err, admin.ErrWeakPassword):
		common.Fail(c, http.StatusBadRequest, 10006, err.Error())
	case errors.Is(err, admin.ErrNegativeLimit):
		common.Fail(c, http.StatusBadRequest, 10007, err.Error())
	default:
		log.Printf("store error request_id=%s path=%s err=%v", c.GetString(middleware.RequestIDKey), c.FullPath(), err)
		common.Fail(c, http.StatusInternalServerError, 50001, "db error")
	}
}
