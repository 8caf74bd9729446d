package utils

import (
	"fmt"
	"time"

	"fanrealms-backend/config"
	"fanrealms-backend/models"

	"github.com/golang-jwt/jwt"
)

func GenerateJWT(user models.User) (string, error) {
	cfg := config.Get().JWT

	claims := jwt.MapClaims{
		"user_id": user.ID,
		"role":    user.Role,
		"exp":     time.Now().Add(cfg.TokenExpire).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

func DecodeJWT(tokenString string) (jwt.MapClaims, error) {
	secret := []byte(config.Get().JWT.Secret)

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("invalid signature method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid or expired token")
	}
	if _, ok := claims["user_id"].(string); !ok {
		return nil, fmt.Errorf("token has no user_id claim")
	}
	return claims, nil
}
