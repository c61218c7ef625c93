package conversation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	participantTokenSecret []byte
	participantTokenTTL    = 7 * 24 * time.Hour
)

type participantTokenClaims struct {
	Participant    string `json:"participant"`
	ConversationID string `json:"conversationId"`
	IssuedAt       int64  `json:"iat"`
	ExpiresAt      int64  `json:"exp"`
}

func SetParticipantTokenSecret(secret []byte) {
	if len(secret) == 0 {
		return
	}
	participantTokenSecret = make([]byte, len(secret))
	copy(participantTokenSecret, secret)
}

func SetParticipantTokenTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	participantTokenTTL = ttl
}

func signParticipantToken(claims participantTokenClaims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, participantTokenSecret)
	if _, err := mac.Write(payload); err != nil {
		return "", err
	}
	signature := mac.Sum(nil)

	payloadPart := base64.RawURLEncoding.EncodeToString(payload)
	sigPart := base64.RawURLEncoding.EncodeToString(signature)

	return fmt.Sprintf("%s.%s", payloadPart, sigPart), nil
}

func verifyParticipantToken(token string, now func() time.Time) (participantTokenClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return participantTokenClaims{}, errors.New("invalid token format")
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return participantTokenClaims{}, fmt.Errorf("decode payload: %w", err)
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return participantTokenClaims{}, fmt.Errorf("decode signature: %w", err)
	}

	mac := hmac.New(sha256.New, participantTokenSecret)
	if _, err := mac.Write(payload); err != nil {
		return participantTokenClaims{}, fmt.Errorf("sign payload: %w", err)
	}

	if !hmac.Equal(sig, mac.Sum(nil)) {
		return participantTokenClaims{}, errors.New("signature mismatch")
	}

	var claims participantTokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return participantTokenClaims{}, fmt.Errorf("unmarshal claims: %w", err)
	}

	nowTime := now().UTC()
	if claims.ExpiresAt != 0 && nowTime.Unix() > claims.ExpiresAt {
		return participantTokenClaims{}, errors.New("token expired")
	}

	return claims, nil
}
