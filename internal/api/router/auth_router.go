package router

import (
	"net/http"

	"support-desk-backend/internal/api"
	"support-desk-backend/internal/api/endpoints"
	"support-desk-backend/internal/api/middleware"
	authsvc "support-desk-backend/internal/service/auth"
)

func AuthRoutes(prefix string, service *authsvc.Service) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		authEndpoints := endpoints.NewAuthEndpoints(service)

		mux.HandleFunc(prefix+"/auth/login", s.MakeHTTPHandleFunc(authEndpoints.Login))
		mux.HandleFunc(prefix+"/auth/refresh", s.MakeHTTPHandleFunc(authEndpoints.Refresh))
		mux.HandleFunc(prefix+"/auth/me", s.MakeHTTPHandleFunc(authEndpoints.Me, middleware.ValidateAgentJWT))
		mux.HandleFunc(prefix+"/agents", s.MakeHTTPHandleFunc(authEndpoints.Agents, middleware.ValidateAgentJWT))
	}
}
