package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"support-desk-backend/internal/database"
	internaljwt "support-desk-backend/internal/jwt"
	"support-desk-backend/internal/model"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

var (
	createTokenWithRefresh = internaljwt.CreateTokenWithRefresh
	refreshAccessToken     = internaljwt.RefreshToken
)

// SetTokenIssuer swaps the token-issuing functions; tests use it to avoid a
// live redis backing the refresh-token store.
func SetTokenIssuer(
	issuer func(internaljwt.Agent, internaljwt.Role, int64) (internaljwt.TokenResponse, error),
	refresher func(string, internaljwt.Role) (string, error),
) {
	if issuer == nil {
		createTokenWithRefresh = internaljwt.CreateTokenWithRefresh
	} else {
		createTokenWithRefresh = issuer
	}
	if refresher == nil {
		refreshAccessToken = internaljwt.RefreshToken
	} else {
		refreshAccessToken = refresher
	}
}

func New(db *database.Database) *Service {
	return &Service{
		repo: NewDynamoRepository(db),
		now:  time.Now,
	}
}

func NewWithRepository(repo Repository, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}

	return &Service{
		repo: repo,
		now:  now,
	}
}

// CreateAgent provisions a support agent account. There is no
// self-registration; accounts are created through the agent-facing admin
// surface.
func (s *Service) CreateAgent(ctx context.Context, params CreateAgentParams) (model.AgentItem, error) {
	email := normalizeEmail(params.Email)
	name := strings.TrimSpace(params.Name)
	password := strings.TrimSpace(params.Password)

	if email == "" || name == "" || password == "" {
		return model.AgentItem{}, newError(ErrorCodeValidation, "missing required fields", nil)
	}

	if _, err := s.repo.FindAgentByEmail(ctx, email); err == nil {
		return model.AgentItem{}, newError(ErrorCodeValidation, "agent with this email already exists", nil)
	} else if !errors.Is(err, ErrNotFound) {
		return model.AgentItem{}, newError(ErrorCodeInternal, "failed to check existing agent", err)
	}

	hash, err := internaljwt.HashPassword(password)
	if err != nil {
		return model.AgentItem{}, newError(ErrorCodeInternal, "failed to hash password", err)
	}

	agent := model.AgentItem{
		AgentID:      uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Status:       "active",
		CreatedAt:    s.now().UTC().Format(time.RFC3339),
	}

	if err := s.repo.CreateAgent(ctx, agent); err != nil {
		return model.AgentItem{}, newError(ErrorCodeInternal, "failed to save agent", err)
	}

	return agent, nil
}

func (s *Service) Login(ctx context.Context, params LoginParams) (AuthResult, error) {
	email := normalizeEmail(params.Email)
	password := strings.TrimSpace(params.Password)

	if email == "" || password == "" {
		return AuthResult{}, newError(ErrorCodeValidation, "missing required fields", nil)
	}

	agent, err := s.repo.FindAgentByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResult{}, newError(ErrorCodeUnauthorized, "invalid credentials", nil)
		}
		return AuthResult{}, newError(ErrorCodeInternal, "failed to fetch agent", err)
	}

	if agent.Status != "active" {
		return AuthResult{}, newError(ErrorCodeUnauthorized, "invalid credentials", nil)
	}
	if !internaljwt.ValidatePassword(agent.PasswordHash, password) {
		return AuthResult{}, newError(ErrorCodeUnauthorized, "invalid credentials", nil)
	}

	tokens, err := createTokenWithRefresh(internaljwt.Agent{
		Id:    agent.AgentID,
		Email: agent.Email,
	}, internaljwt.RoleAgent, 0)
	if err != nil {
		return AuthResult{}, newError(ErrorCodeInternal, "failed to issue tokens", err)
	}

	return AuthResult{
		Agent:  agent,
		Tokens: tokens,
	}, nil
}

// Refresh exchanges a refresh token for a fresh access token. The refresh
// token itself keeps living in the store with a renewed TTL.
func (s *Service) Refresh(refreshToken string) (internaljwt.TokenResponse, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return internaljwt.TokenResponse{}, newError(ErrorCodeValidation, "refresh token is required", nil)
	}

	accessToken, err := refreshAccessToken(refreshToken, internaljwt.RoleAgent)
	if err != nil {
		return internaljwt.TokenResponse{}, newError(ErrorCodeUnauthorized, "invalid refresh token", err)
	}

	return internaljwt.TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

func (s *Service) Me(ctx context.Context, identity Identity) (model.AgentItem, error) {
	agentID := strings.TrimSpace(identity.AgentID)
	if agentID == "" {
		return model.AgentItem{}, newError(ErrorCodeUnauthorized, "invalid agent identity", nil)
	}

	agent, err := s.repo.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.AgentItem{}, newError(ErrorCodeNotFound, "agent not found", err)
		}
		return model.AgentItem{}, newError(ErrorCodeInternal, "failed to fetch agent", err)
	}

	return agent, nil
}

func (s *Service) IdentityFromAuthorizationHeader(header string) (Identity, error) {
	authHeader := strings.TrimSpace(header)
	if authHeader == "" {
		return Identity{}, newError(ErrorCodeUnauthorized, "missing authorization header", nil)
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return Identity{}, newError(ErrorCodeUnauthorized, "invalid authorization header format", nil)
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	return s.identityFromToken(token)
}

func (s *Service) identityFromToken(token string) (Identity, error) {
	if token == "" {
		return Identity{}, newError(ErrorCodeUnauthorized, "empty token", nil)
	}

	claims, err := internaljwt.ParseToken(token, internaljwt.RoleAgent)
	if err != nil {
		return Identity{}, newError(ErrorCodeUnauthorized, "invalid token", err)
	}

	agentID, _ := claims["id"].(string)
	email, _ := claims["email"].(string)

	if agentID == "" {
		return Identity{}, newError(ErrorCodeUnauthorized, "token missing identifiers", nil)
	}

	return Identity{
		AgentID: agentID,
		Email:   email,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
