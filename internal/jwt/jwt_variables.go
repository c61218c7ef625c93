package jwt

import (
	"time"

	"support-desk-backend/internal/env"

	"github.com/go-redis/redis/v8"
)

var (
	agentSecret string
	RedisClient *redis.Client
)

const RefreshTokenTTL = 24 * 30 * time.Hour

const (
	RoleAgent Role = iota
)

// Configure wires the signing secret and the redis store that backs refresh
// tokens. Binaries call it once at startup; tests call SetAgentSecret only.
func Configure() {
	agentSecret = env.Get(env.AgentSecretKey)

	RedisClient = redis.NewClient(&redis.Options{
		Addr:     env.Get(env.AuthRedisURL),
		Password: env.Get(env.AuthRedisPass),
		DB:       0,
	})
}

func SetAgentSecret(secret string) {
	agentSecret = secret
}

func roleSecret(role Role) (string, bool) {
	switch role {
	case RoleAgent:
		return agentSecret, true
	}
	return "", false
}
