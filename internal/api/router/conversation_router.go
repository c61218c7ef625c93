package router

import (
	"net/http"
	"strings"

	"support-desk-backend/internal/api"
	"support-desk-backend/internal/api/endpoints"
	"support-desk-backend/internal/api/middleware"
	conversationservice "support-desk-backend/internal/service/conversation"
)

// ConversationPublicRoutes exposes the customer-facing surface: starting a
// conversation and reading or posting messages with a participant token.
func ConversationPublicRoutes(prefix string, service *conversationservice.Service) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		paths := endpoints.ConversationPaths{
			PublicConversationsPath:  strings.TrimRight(prefix, "/") + "/conversations",
			PublicConversationPrefix: strings.TrimRight(prefix, "/") + "/conversations/",
		}
		convEndpoints := endpoints.NewConversationEndpoints(service, paths)

		mux.HandleFunc(prefix+"/conversations", s.MakeHTTPHandleFunc(convEndpoints.PublicConversations))
		mux.HandleFunc(prefix+"/conversations/", s.MakeHTTPHandleFunc(convEndpoints.PublicConversationActions))
	}
}

// ConversationAgentRoutes exposes the dashboard surface behind agent JWTs.
func ConversationAgentRoutes(prefix string, service *conversationservice.Service) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		paths := endpoints.ConversationPaths{
			AgentConversationsPath:  strings.TrimRight(prefix, "/") + "/conversations",
			AgentConversationPrefix: strings.TrimRight(prefix, "/") + "/conversations/",
		}
		convEndpoints := endpoints.NewConversationEndpoints(service, paths)

		mux.HandleFunc(prefix+"/conversations", s.MakeHTTPHandleFunc(convEndpoints.Conversations, middleware.ValidateAgentJWT))
		mux.HandleFunc(prefix+"/conversations/", s.MakeHTTPHandleFunc(convEndpoints.ConversationActions, middleware.ValidateAgentJWT))
	}
}

// WebsocketRoutes serves the realtime endpoint. The upgrade bypasses the
// request queue: a websocket connection lives far longer than a request and
// must not pin a queue worker.
func WebsocketRoutes(path string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		handler := s.WebsocketHandler()
		if handler == nil {
			return
		}
		mux.HandleFunc(path, middleware.Chain(handler.ServeWS, middleware.Logging()))
	}
}
