package httpapi

import "net/http"

func registerSystemRoutes(mux *http.ServeMux, handler *Handler) {
	mux.HandleFunc("GET /healthz", handler.Healthz)
}

func registerPublicRoutes(mux *http.ServeMux, handler *Handler) {
	mux.HandleFunc("GET /v1/entities/search", handler.SearchEntities)
	mux.HandleFunc("GET /v1/entities/{entityID}/stats", handler.GetEntityStats)
	mux.HandleFunc("GET /v1/leaderboards/{stat}", handler.GetLeaderboard)
	mux.HandleFunc("GET /v1/sources", handler.ListSources)
}

func registerInternalRoutes(mux *http.ServeMux, handler *Handler, internalJobToken string) {
	mux.Handle("POST /v1/internal/refresh", RequireInternalJobToken(internalJobToken, http.HandlerFunc(handler.RunRefresh)))
}
