package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-news/curator/config"
	"github.com/meridian-news/curator/internal/store"
)

// Run wires the HTTP API: migrations, store, redis, handlers and the
// periodic integrity sweep.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "X-Actor-Id", "X-Session-Id"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		log.Printf("[MIGRATE] %v", err)
	}

	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if addr := cfg.Storage.Redis.Addr(); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", addr, err)
		}
	}

	api := e.Group("/api")

	nh := &NarrativesHandler{Store: st, Cache: newDashboardCache(rdb, cfg.Curation.DashboardCacheTTL)}
	nh.Register(api.Group("/narratives"))

	gh := &GroupsHandler{Store: st}
	gh.Register(api.Group("/cluster-groups"))

	dh := &DashboardHandler{Store: st, Cache: nh.Cache}
	dh.Register(api.Group("/dashboard"))

	oh := &OpsHandler{Store: st, Cache: nh.Cache}
	oh.Register(api.Group("/ops"))

	sweeper := &IntegritySweeper{
		Store:    st,
		Rdb:      rdb,
		Schedule: cfg.Curation.IntegritySchedule,
		LockTTL:  cfg.Curation.SweepLockTTL,
		Stop:     make(chan struct{}),
	}
	sweeper.Start()
	defer close(sweeper.Stop)

	return e.Start(cfg.Server.Address)
}
