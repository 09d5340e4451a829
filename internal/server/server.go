// Package server exposes the synced catalog and price list as a read-only
// JSON API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/labsync/labsync/internal/domain/catalog"
	"github.com/labsync/labsync/internal/domain/pricing"
	"github.com/labsync/labsync/internal/platform/middleware"
)

type Server struct {
	pool    *pgxpool.Pool
	catalog catalog.Repository
	pricing pricing.Repository
	log     zerolog.Logger
}

func New(pool *pgxpool.Pool, cat catalog.Repository, prc pricing.Repository, log zerolog.Logger) *echo.Echo {
	s := &Server{pool: pool, catalog: cat, pricing: prc, log: log}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(log))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(log))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
	}))

	e.GET("/health", s.Health)

	api := e.Group("/api")
	s.RegisterRoutes(api)

	return e
}

func (s *Server) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "down", "error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
