package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const RoleAdmin = "admin"

// NewAdminToken выпускает JWT администратора. В проде токены выдаёт сервис авторизации,
// здесь это нужно для локального запуска и тестов.
func NewAdminToken(adminID, name string, ttl time.Duration, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	if adminID == "" {
		return "", errors.New("admin id is empty")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  adminID,
		"name": name,
		"role": RoleAdmin,
		"exp":  now.Add(ttl).Unix(),
		"iat":  now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
