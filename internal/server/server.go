// Package server assembles the categorization API over the local database.
package server

import (
	"net/http"

	"github.com/rumor-ml/commons.systems/bankload/internal/handlers"
	"github.com/rumor-ml/commons.systems/bankload/internal/middleware"
)

// Server serves the manual categorization surface. It owns no resources: the
// store and the token verifier belong to the caller.
type Server struct {
	mux *http.ServeMux
}

// New creates a server over the given store. With a nil verifier the API runs
// unauthenticated, which is the local single-user setup.
func New(st handlers.TransactionStore, verifier middleware.TokenVerifier) *Server {
	s := &Server{mux: http.NewServeMux()}
	s.setupRoutes(st, verifier)
	return s
}

func (s *Server) setupRoutes(st handlers.TransactionStore, verifier middleware.TokenVerifier) {
	// Health check (no auth required)
	s.mux.HandleFunc("/health", handlers.HealthCheck)

	apiHandler := handlers.NewAPIHandler(st)

	guard := func(h http.HandlerFunc) http.Handler {
		if verifier == nil {
			return h
		}
		return middleware.NewAuthMiddleware(verifier).RequireAuth(h)
	}

	s.mux.Handle("/api/transactions", guard(apiHandler.GetTransactions))
	s.mux.Handle("/api/accounts", guard(apiHandler.GetAccounts))
	s.mux.Handle("/api/categories", guard(apiHandler.GetCategories))
	s.mux.Handle("/api/beneficiaries", guard(apiHandler.GetBeneficiaries))
	s.mux.Handle("/api/categorize", guard(apiHandler.Categorize))
}

// Handler returns the HTTP handler with middleware applied
func (s *Server) Handler() http.Handler {
	return middleware.CORS(s.mux)
}
