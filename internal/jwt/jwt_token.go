package jwt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"support-desk-backend/utils"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt"
)

// ErrTokenExpired is returned for structurally valid but expired tokens so
// callers can trigger a refresh-and-retry instead of treating the failure as
// permanent.
var ErrTokenExpired = errors.New("jwt: token expired")

func CreateToken(agent Agent, role Role, validUntil int64) (string, error) {
	secret, ok := roleSecret(role)
	if !ok {
		return "", fmt.Errorf("invalid role specified")
	}

	if validUntil == 0 {
		now := time.Now()
		validUntil = now.Add(time.Minute * 15).Unix()
	}

	claims := jwt.MapClaims{
		"id":    agent.Id,
		"email": agent.Email,
		"exp":   validUntil,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func CreateTokenWithRefresh(agent Agent, role Role, validUntil int64) (TokenResponse, error) {
	accessToken, err := CreateToken(agent, role, validUntil)
	if err != nil {
		return TokenResponse{}, err
	}

	refreshToken := utils.CreateToken()

	agentData := map[string]string{
		"id":    agent.Id,
		"email": agent.Email,
	}
	agentDataJSON, _ := json.Marshal(agentData)

	err = RedisClient.Set(context.Background(), refreshToken, agentDataJSON, RefreshTokenTTL).Err()
	if err != nil {
		return TokenResponse{}, err
	}

	return TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

func ParseToken(tokenString string, role Role) (jwt.MapClaims, error) {
	if len(tokenString) == 0 {
		return nil, fmt.Errorf("token string is empty")
	}

	secret, ok := roleSecret(role)
	if !ok {
		return nil, fmt.Errorf("invalid role specified")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(secret), nil
	})

	if err != nil {
		var validationErr *jwt.ValidationError
		if errors.As(err, &validationErr) && validationErr.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("unauthorized: %v", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid - unauthorized")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("claims of unauthorized type")
	}

	return claims, nil
}

func RefreshToken(refreshToken string, role Role) (string, error) {
	if len(refreshToken) == 0 {
		return "", fmt.Errorf("refresh token is empty")
	}

	val, err := RedisClient.Get(context.Background(), refreshToken).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("invalid refresh token")
	} else if err != nil {
		return "", err
	}

	var agentData map[string]string
	if err := json.Unmarshal([]byte(val), &agentData); err != nil {
		return "", fmt.Errorf("invalid token data")
	}

	agent := Agent{
		Id:    agentData["id"],
		Email: agentData["email"],
	}

	err = RedisClient.Expire(context.Background(), refreshToken, RefreshTokenTTL).Err()
	if err != nil {
		return "", fmt.Errorf("failed to update refresh token expiration: %v", err)
	}

	return CreateToken(agent, role, 0)
}
