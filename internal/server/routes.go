// Package server wires the HTTP handlers of the WebSocket gateway into a
// gorilla/mux router.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Routes returns the router for the health check, the user listing, and the
// WebSocket endpoint.
func (s *Server) Routes() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/", HealthHandler).Methods(http.MethodGet)
	router.HandleFunc("/users", s.UsersHandler).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.WebSocketHandler)
	return router
}
