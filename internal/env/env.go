package env

import (
	"os"
	"time"
)

const (
	AWSRegion        = "AWS_REGION"
	AWSID            = "AWS_ID"
	AWSSecret        = "AWS_SECRET"
	AWSToken         = "AWS_TOKEN"
	DynamoDBEndpoint = "DYNAMODB_ENDPOINT"
	AgentSecretKey   = "AGENT_SECRET"
	ParticipantKey   = "PARTICIPANT_SECRET"
	AuthRedisURL     = "AUTH_REDIS_URL"
	AuthRedisPass    = "AUTH_REDIS_PASS"
	EventRedisURL    = "EVENT_REDIS_URL"
	EventRedisPass   = "EVENT_REDIS_PASS"
	NotifyAMQPURL    = "NOTIFY_AMQP_URL"
	NotifyExchange   = "NOTIFY_AMQP_EXCHANGE"
	ReaperInterval   = "REAPER_INTERVAL"
	IdleThreshold    = "IDLE_THRESHOLD"
	HandshakeTimeout = "HANDSHAKE_TIMEOUT"
	WebUrl           = "WEB_URL"
)

// Require panics when any of the given keys is unset. Binaries call this
// once at startup so misconfiguration fails fast instead of surfacing
// mid-request.
func Require(keys ...string) {
	for _, key := range keys {
		if os.Getenv(key) == "" {
			panic("env: required environment variable not set: " + key)
		}
	}
}

func Get(key string) string {
	return os.Getenv(key)
}

func GetOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func MustGet(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic("env: required environment variable not set: " + key)
	}
	return val
}

func GetDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
