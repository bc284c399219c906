package identity

import (
	"fmt"
	"strings"

	"access_service/internal/models"

	"github.com/gofiber/fiber/v3"
	"github.com/golang-jwt/jwt/v5"
)

// Identity is who the gateway says is calling. Behind the middleware the
// user id arrives as the X-User-ID header; a bearer token is accepted as
// a fallback for direct calls.
type Identity struct {
	UserID   string
	Username string
	Email    string
}

type Claims struct {
	jwt.RegisteredClaims
	Id       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type Resolver struct {
	secretKey []byte
}

func NewResolver(jwtSecret string) *Resolver {
	return &Resolver{
		secretKey: []byte(jwtSecret),
	}
}

// FromContext resolves the caller of the current request. Returns
// models.ErrAuthenticationRequired when neither header nor token names a
// user.
func (r *Resolver) FromContext(c fiber.Ctx) (*Identity, error) {
	if userID := c.Get("X-User-ID"); userID != "" {
		return &Identity{
			UserID:   userID,
			Username: c.Get("X-Username"),
			Email:    c.Get("X-User-Email"),
		}, nil
	}

	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return nil, models.ErrAuthenticationRequired
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader || tokenString == "" {
		return nil, models.ErrAuthenticationRequired
	}

	claims, err := r.verifyToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAuthenticationRequired, err)
	}

	return &Identity{
		UserID:   claims.Id,
		Username: claims.Username,
		Email:    claims.Email,
	}, nil
}

func (r *Resolver) verifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return r.secretKey, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}
