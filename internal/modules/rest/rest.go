// @title webcamrec API
// @version 1.0
// @description Webcam capture and recording service API
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url http://github.com/eric2788/webcamrec

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

// @host localhost:8080
// @BasePath /
// @schemes http https
//
//go:generate swag init -d ../../.. -g internal/modules/rest/rest.go -o ../../../docs --outputTypes go,json

// Package rest serves the camera control api.
//
// Authentication: when USERNAME and PASSWORD are set, POST /login returns a
// bearer token required by every route except /login, /healthz, /metrics
// and the api documentation under /docs.
package rest

import (
	"context"
	"os"
	"time"

	_ "github.com/eric2788/webcamrec/docs"
	"github.com/eric2788/webcamrec/internal/modules/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sirupsen/logrus"
	"go.uber.org/fx"

	jwtware "github.com/gofiber/contrib/v3/jwt"
	"github.com/gofiber/contrib/v3/swagger"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	logging "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
)

var logger = logrus.WithField("module", "rest")

func New(cfg *config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "webcamrec",
	})

	app.Use(recover.New())
	app.Use(logging.New(logging.Config{
		Format: "| ${status} | ${latency} | ${ip} | ${method} | ${path} | ${error}\n",
		Stream: logger.Writer(),
	}))

	app.Get("/healthz", func(c fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// the middleware refuses to start without the generated spec
	if _, err := os.Stat(cfg.DocsFile); cfg.DocsFile != "" && err == nil {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/",
			FilePath: cfg.DocsFile,
			Path:     "docs",
			Title:    "webcamrec API Documentation",
		}))
	} else if cfg.DocsFile != "" {
		logger.Warnf("api documentation disabled: %v", err)
	}

	if cfg.Username != "" && cfg.PasswordHash != "" && !cfg.AnonymousLogin {
		logger.Info("JWT authentication enabled for REST API")
		app.Post("/login",
			limiter.New(limiter.Config{Max: 10, Expiration: 1 * time.Minute}),
			loginHandler(cfg),
		)
		app.Use(jwtware.New(jwtware.Config{
			SigningKey: jwtware.SigningKey{Key: []byte(cfg.JwtSecret)},
		}))
	} else {
		logger.Warn("REST API running without authentication")
	}
	return app
}

func provider(ls fx.Lifecycle, cfg *config.Config) *fiber.App {
	app := New(cfg)

	ls.Append(
		fx.StartStopHook(
			func(ctx context.Context) error {
				addr := ":" + cfg.Port
				logger.Infof("starting http server on %s", addr)
				go func() {
					if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
						logger.Errorf("http server error: %v", err)
					}
				}()
				return nil
			},
			func(ctx context.Context) error {
				logger.Info("stopping http server")
				return app.ShutdownWithContext(ctx)
			},
		),
	)

	return app
}

var Module = fx.Module("rest", fx.Provide(provider))
