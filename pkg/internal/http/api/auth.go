package api

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"

	"github.com/resonance-im/resonance/pkg/internal/models"
	"github.com/resonance-im/resonance/pkg/internal/services"
)

type LoginClaims struct {
	UserID uint `json:"user_id"`
	jwt.RegisteredClaims
}

// authMiddleware resolves the caller's durable identity from a bearer token.
// Everything that mints relay credentials sits behind it: the subject uid
// must be derived from an identity the server verified itself.
func authMiddleware(c *fiber.Ctx) error {
	raw := c.Get(fiber.HeaderAuthorization)
	if len(raw) == 0 {
		raw = c.Query("tk")
	}
	raw = strings.TrimPrefix(raw, "Bearer ")
	if len(raw) == 0 {
		return fiber.NewError(fiber.StatusUnauthorized, "must sign in first")
	}

	var claims LoginClaims
	tk, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method)
		}
		return []byte(viper.GetString("security.jwt_secret")), nil
	})
	if err != nil || !tk.Valid {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid session token")
	}

	user, err := services.GetAccount(claims.UserID)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "account of session token was not found")
	}

	c.Locals("user", user)
	return c.Next()
}

func requireUser(c *fiber.Ctx) (models.Account, error) {
	user, ok := c.Locals("user").(models.Account)
	if !ok {
		return user, fiber.NewError(fiber.StatusUnauthorized, "must sign in first")
	}
	return user, nil
}
