package api

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"snapshelf/internal/server/config"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))
	e.Use(RequestLogger())

	if cfg.UploaderPasswordHash == "" {
		slog.Warn("UPLOADER_PASSWORD_HASH is not set, uploads and edits are disabled")
	}
	uploader := UploaderAuth(cfg.UploaderName, cfg.UploaderPasswordHash)
	uploadLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)

	// Public photo library
	e.GET("/photos/:checksum", handler.HandlePhoto)
	e.GET("/photos/:checksum/thumb", handler.HandleThumb)
	e.GET("/api/photos", handler.HandleListPhotos)
	e.GET("/api/photos/:checksum", handler.HandleGetPhoto)
	e.PATCH("/api/photos/:checksum", handler.HandleUpdatePhoto, uploader)

	// Upload sessions
	up := e.Group("/api/uploads", uploader)
	up.POST("", handler.HandleUpload, uploadLimiter.Middleware())
	up.GET("/:session", handler.HandlePreview)
	up.GET("/:session/photos/:checksum", handler.HandleStagedPhoto)
	up.GET("/:session/photos/:checksum/thumb", handler.HandleStagedThumb)
	up.POST("/:session/commit", handler.HandleCommit)
	up.DELETE("/:session", handler.HandleDiscard)

	return e
}
