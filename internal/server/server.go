package server

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/akbasozcan3/isci-takip-app-sub002/internal/auth"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/config"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/group"
	applog "github.com/akbasozcan3/isci-takip-app-sub002/internal/log"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/stream"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/tracking"
)

type Server struct {
	App    *fiber.App
	Cfg    config.Config
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Stream *stream.Hub
	Logger *slog.Logger
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	log := applog.L()
	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     db,
		Redis:  redisClient,
		Stream: stream.NewHub(redisClient, log),
		Logger: log,
	}

	registerRoutes(s)
	return s
}

// Close stops the room relay.
func (s *Server) Close() {
	s.Stream.Close()
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	groups := group.NewService(s.DB, group.Options{
		Rooms:        s.Stream,
		Online:       s.Stream,
		OnlineWindow: s.Cfg.OnlineWindow,
		Logger:       s.Logger,
	})

	auth.RegisterRoutes(s.App.Group("/auth"), auth.NewService(s.Cfg.JWTSecret, s.DB))
	tracking.RegisterRoutes(s.App, tracking.NewService(s.DB, s.Stream, s.Logger), jwtMiddleware)
	group.RegisterRoutes(s.App.Group("/groups"), groups, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, groups, jwtMiddleware)
}
