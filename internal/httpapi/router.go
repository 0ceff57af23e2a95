package httpapi

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/song-pt/TongAI/internal/admin"
	"github.com/song-pt/TongAI/internal/chat"
	"github.com/song-pt/TongAI/internal/common"
	"github.com/song-pt/TongAI/internal/config"
	"github.com/song-pt/TongAI/internal/gate"
	"github.com/song-pt/TongAI/internal/httpapi/handlers"
	"github.com/song-pt/TongAI/internal/httpapi/middleware"
	"github.com/song-pt/TongAI/internal/metrics"
	"github.com/song-pt/TongAI/internal/settings"
	"github.com/song-pt/TongAI/internal/store"
)

type Deps struct {
	Cfg      config.Config
	Repo     *store.Repo
	Settings *settings.Resolver
	Gate     *gate.Gate
	Chat     *chat.Service
	Admin    *admin.Service
	Metrics  *metrics.Registry // optional
	Limiter  middleware.Limiter
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization",
			middleware.AccessKeyHeader, middleware.DeviceIDHeader, middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())
	r.Use(cors.New(corsConfig(d.Cfg.CORSOrigins)))
	if d.Metrics != nil {
		r.Use(middleware.Metrics(d.Metrics))
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	h := handlers.NewHandler(d.Repo, d.Settings, d.Gate, d.Chat, d.Admin)

	r.GET("/ping", h.Ping)

	api := r.Group("/api")
	api.Use(gzip.Gzip(gzip.DefaultCompression))

	// public
	api.GET("/app", h.GetApp)
	api.GET("/subjects", h.ListSubjects)
	api.GET("/levels", h.ListLevels)
	api.POST("/login", middleware.RateLimit(d.Limiter, d.Cfg.RateLimitPerMinute), h.Login)

	// access key + device required
	user := api.Group("")
	user.Use(middleware.IdentityRequired(d.Gate))
	user.POST("/image-key/verify", h.VerifyImageKey)
	user.GET("/history", h.History)
	limited := user.Group("")
	limited.Use(middleware.RateLimit(d.Limiter, d.Cfg.RateLimitPerMinute))
	limited.POST("/solve", h.Solve)
	limited.POST("/continue", h.Continue)

	// admin
	api.POST("/admin/login", middleware.RateLimit(d.Limiter, d.Cfg.RateLimitPerMinute), h.AdminLogin)
	adm := api.Group("/admin")
	adm.Use(middleware.AdminRequired(d.Admin))
	adm.PUT("/password", h.AdminUpdatePassword)

	adm.GET("/keys", h.AdminListKeys)
	adm.POST("/keys", h.AdminCreateKey)
	adm.PATCH("/keys/:id", h.AdminPatchKey)
	adm.DELETE("/keys/:code", h.AdminDeleteKey)

	adm.GET("/image-keys", h.AdminListImageKeys)
	adm.POST("/image-keys", h.AdminCreateImageKey)
	adm.PATCH("/image-keys/:id", h.AdminPatchImageKey)
	adm.DELETE("/image-keys/:code", h.AdminDeleteImageKey)

	adm.GET("/devices", h.AdminListDevices)
	adm.PATCH("/devices/ban", h.AdminBanDevice)
	adm.GET("/history", h.AdminHistory)

	adm.GET("/subjects", h.AdminListSubjects)
	adm.POST("/subjects", h.AdminCreateSubject)
	adm.PUT("/subjects/:code", h.AdminUpdateSubject)
	adm.DELETE("/subjects/:code", h.AdminDeleteSubject)

	adm.GET("/levels", h.AdminListLevels)
	adm.POST("/levels", h.AdminCreateLevel)
	adm.PUT("/levels/:code", h.AdminUpdateLevel)
	adm.DELETE("/levels/:code", h.AdminDeleteLevel)

	adm.GET("/config", h.AdminListConfig)
	adm.PUT("/config/:key", h.AdminSetConfig)
	return r
}
