package rest

import (
	"crypto/subtle"
	"time"

	"github.com/eric2788/webcamrec/internal/modules/config"
	"github.com/gofiber/fiber/v3"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const tokenTTL = 72 * time.Hour

type loginRequest struct {
	User string `json:"user" form:"user"`
	Pass string `json:"pass" form:"pass"`
}

func loginHandler(cfg *config.Config) fiber.Handler {
	return func(c fiber.Ctx) error {

		var req loginRequest
		if err := c.Bind().Body(&req); err != nil {
			return fiber.ErrBadRequest
		}

		if subtle.ConstantTimeCompare([]byte(req.User), []byte(cfg.Username)) != 1 || bcrypt.CompareHashAndPassword([]byte(cfg.PasswordHash), []byte(req.Pass)) != nil {
			return fiber.ErrUnauthorized
		}

		now := time.Now()
		claims := jwt.MapClaims{
			"name": cfg.Username,
			"iat":  now.Unix(),
			"exp":  now.Add(tokenTTL).Unix(),
			"iss":  "webcamrec",
		}

		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		t, err := token.SignedString([]byte(cfg.JwtSecret))
		if err != nil {
			return fiber.ErrInternalServerError
		}

		return c.JSON(fiber.Map{"token": t})
	}
}
