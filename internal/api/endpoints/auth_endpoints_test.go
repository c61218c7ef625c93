package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"support-desk-backend/internal/api"
	"support-desk-backend/internal/api/middleware"
	"support-desk-backend/internal/dto"
	internaljwt "support-desk-backend/internal/jwt"
	"support-desk-backend/internal/model"
	"support-desk-backend/internal/queue"
	authsvc "support-desk-backend/internal/service/auth"
)

type testRepository struct {
	mu      sync.Mutex
	agents  map[string]model.AgentItem
	byEmail map[string]string
}

func newTestRepository() *testRepository {
	return &testRepository{
		agents:  make(map[string]model.AgentItem),
		byEmail: make(map[string]string),
	}
}

func (m *testRepository) CreateAgent(ctx context.Context, agent model.AgentItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[agent.AgentID] = agent
	m.byEmail[agent.Email] = agent.AgentID
	return nil
}

func (m *testRepository) FindAgentByEmail(ctx context.Context, email string) (model.AgentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[email]
	if !ok {
		return model.AgentItem{}, authsvc.ErrNotFound
	}
	return m.agents[id], nil
}

func (m *testRepository) GetAgent(ctx context.Context, agentID string) (model.AgentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[agentID]
	if !ok {
		return model.AgentItem{}, authsvc.ErrNotFound
	}
	return agent, nil
}

func fixedTime() time.Time {
	return time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
}

func setupTestJWT(t *testing.T) {
	t.Helper()
	internaljwt.SetAgentSecret("test-secret")
	authsvc.SetTokenIssuer(func(agent internaljwt.Agent, role internaljwt.Role, validUntil int64) (internaljwt.TokenResponse, error) {
		token, err := internaljwt.CreateToken(agent, role, validUntil)
		if err != nil {
			return internaljwt.TokenResponse{}, err
		}
		return internaljwt.TokenResponse{
			AccessToken:  token,
			RefreshToken: "refresh-" + agent.Id,
		}, nil
	}, func(refreshToken string, role internaljwt.Role) (string, error) {
		return "refreshed-access", nil
	})
	t.Cleanup(func() {
		authsvc.SetTokenIssuer(nil, nil)
	})
}

func setupAuthHandler(t *testing.T, svc *authsvc.Service) (http.Handler, func()) {
	t.Helper()

	authEndpoints := &authEndpoints{service: svc}

	queueManager := queue.NewRequestQueueManager(10, 1)

	server := api.NewAPIServer(":0", queueManager, nil, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", server.MakeHTTPHandleFunc(authEndpoints.Login))
	mux.HandleFunc("/api/auth/refresh", server.MakeHTTPHandleFunc(authEndpoints.Refresh))
	mux.HandleFunc("/api/auth/me", server.MakeHTTPHandleFunc(authEndpoints.Me, middleware.ValidateAgentJWT))
	mux.HandleFunc("/api/agents", server.MakeHTTPHandleFunc(authEndpoints.Agents, middleware.ValidateAgentJWT))

	return mux, func() {
		queueManager.Shutdown()
	}
}

func doJSONRequest[T any](t *testing.T, handler http.Handler, method, target string, body interface{}, headers map[string]string, expectedStatus int) T {
	t.Helper()

	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		payload = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, target, payload)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != expectedStatus {
		t.Fatalf("expected status %d, got %d: %s", expectedStatus, rec.Code, rec.Body.String())
	}

	var result T
	if expectedStatus != http.StatusNoContent {
		if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}

	return result
}

func seedAgent(t *testing.T, svc *authsvc.Service, email, password string) model.AgentItem {
	t.Helper()
	agent, err := svc.CreateAgent(context.Background(), authsvc.CreateAgentParams{
		Email:    email,
		Name:     "Seed Agent",
		Password: password,
	})
	if err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	return agent
}

func TestAuthEndpointsEndToEnd(t *testing.T) {
	setupTestJWT(t)
	repo := newTestRepository()
	service := authsvc.NewWithRepository(repo, fixedTime)

	handler, cleanup := setupAuthHandler(t, service)
	defer cleanup()

	seeded := seedAgent(t, service, "agent@example.com", "Sup3rS3cret!")

	loginResp := doJSONRequest[dto.AgentLoginResponse](t, handler, http.MethodPost, "/api/auth/login", map[string]interface{}{
		"email":    "Agent@Example.com",
		"password": "Sup3rS3cret!",
	}, nil, http.StatusOK)

	if loginResp.AccessToken == "" {
		t.Fatal("expected access token in login response")
	}
	if loginResp.RefreshToken != "refresh-"+seeded.AgentID {
		t.Fatalf("unexpected refresh token %s", loginResp.RefreshToken)
	}

	headers := map[string]string{
		"Authorization": "Bearer " + loginResp.AccessToken,
	}

	meResp := doJSONRequest[dto.AgentResponse](t, handler, http.MethodGet, "/api/auth/me", nil, headers, http.StatusOK)

	if meResp.AgentID != seeded.AgentID {
		t.Fatalf("expected agent %s, got %s", seeded.AgentID, meResp.AgentID)
	}
	if meResp.Email != "agent@example.com" {
		t.Fatalf("expected normalized email, got %s", meResp.Email)
	}

	created := doJSONRequest[dto.AgentResponse](t, handler, http.MethodPost, "/api/agents", map[string]interface{}{
		"email":    "second@example.com",
		"name":     "Second Agent",
		"password": "An0therS3cret!",
	}, headers, http.StatusCreated)

	if created.AgentID == "" || created.AgentID == seeded.AgentID {
		t.Fatalf("expected fresh agent id, got %s", created.AgentID)
	}
	if created.Status != "active" {
		t.Fatalf("expected active status, got %s", created.Status)
	}
}

func TestAuthLoginRejectsBadPassword(t *testing.T) {
	setupTestJWT(t)
	repo := newTestRepository()
	service := authsvc.NewWithRepository(repo, fixedTime)

	handler, cleanup := setupAuthHandler(t, service)
	defer cleanup()

	seedAgent(t, service, "agent@example.com", "Sup3rS3cret!")

	doJSONRequest[api.ApiError](t, handler, http.MethodPost, "/api/auth/login", map[string]interface{}{
		"email":    "agent@example.com",
		"password": "wrong",
	}, nil, http.StatusUnauthorized)
}

func TestAuthRefreshIssuesNewAccessToken(t *testing.T) {
	setupTestJWT(t)
	repo := newTestRepository()
	service := authsvc.NewWithRepository(repo, fixedTime)

	handler, cleanup := setupAuthHandler(t, service)
	defer cleanup()

	resp := doJSONRequest[dto.RefreshTokenResponse](t, handler, http.MethodPost, "/api/auth/refresh", map[string]interface{}{
		"refreshToken": "any-refresh",
	}, nil, http.StatusOK)

	if resp.AccessToken != "refreshed-access" {
		t.Fatalf("unexpected access token %s", resp.AccessToken)
	}
}

func TestAuthCreateAgentRequiresAuthorization(t *testing.T) {
	setupTestJWT(t)
	repo := newTestRepository()
	service := authsvc.NewWithRepository(repo, fixedTime)

	handler, cleanup := setupAuthHandler(t, service)
	defer cleanup()

	body, _ := json.Marshal(map[string]interface{}{
		"email":    "second@example.com",
		"name":     "Second Agent",
		"password": "An0therS3cret!",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/agents", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestAuthCreateAgentRejectsDuplicateEmail(t *testing.T) {
	setupTestJWT(t)
	repo := newTestRepository()
	service := authsvc.NewWithRepository(repo, fixedTime)

	handler, cleanup := setupAuthHandler(t, service)
	defer cleanup()

	seeded := seedAgent(t, service, "agent@example.com", "Sup3rS3cret!")

	token, err := internaljwt.CreateToken(internaljwt.Agent{Id: seeded.AgentID, Email: seeded.Email}, internaljwt.RoleAgent, time.Now().Add(time.Hour).Unix())
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	headers := map[string]string{
		"Authorization": "Bearer " + token,
	}

	doJSONRequest[api.ApiError](t, handler, http.MethodPost, "/api/agents", map[string]interface{}{
		"email":    "AGENT@example.com",
		"name":     "Clone",
		"password": "Sup3rS3cret!",
	}, headers, http.StatusBadRequest)
}
