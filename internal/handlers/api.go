// Package handlers exposes the manual categorization surface over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/rumor-ml/commons.systems/bankload/internal/domain"
	"github.com/rumor-ml/commons.systems/bankload/internal/middleware"
	"github.com/rumor-ml/commons.systems/bankload/internal/store"
)

// TransactionStore is the storage surface the API needs, for dependency
// injection in tests.
type TransactionStore interface {
	Transactions(ctx context.Context, table string) ([]domain.Transaction, error)
	Categorize(ctx context.Context, table string, txn *domain.Transaction, e domain.Enrichment) error
	Accounts(ctx context.Context) ([]domain.Account, error)
	Categories(ctx context.Context) ([]store.Category, error)
	UpsertCategory(ctx context.Context, c store.Category) error
	Beneficiaries(ctx context.Context) ([]string, error)
	AddBeneficiary(ctx context.Context, name string) error
}

// APIHandler handles API requests
type APIHandler struct {
	store TransactionStore
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(st TransactionStore) *APIHandler {
	return &APIHandler{store: st}
}

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

// transactionJSON is the wire shape of a statement line. Dates travel as
// YYYY-MM-DD strings.
type transactionJSON struct {
	Fecha          string   `json:"fecha"`
	Concepto       string   `json:"concepto"`
	Cargo          float64  `json:"cargo"`
	Abono          float64  `json:"abono"`
	Saldo          *float64 `json:"saldo,omitempty"`
	Cuenta         string   `json:"cuenta"`
	Estado         string   `json:"estado"`
	Periodo        string   `json:"periodo"`
	UniqueConcept  string   `json:"unique_concept"`
	SourceFile     string   `json:"source_file,omitempty"`
	SourceFileDate string   `json:"source_file_date,omitempty"`
	Grupo          string   `json:"grupo,omitempty"`
	Subgrupo       string   `json:"subgrupo,omitempty"`
	Beneficiario   string   `json:"beneficiario,omitempty"`
}

func toJSON(t *domain.Transaction) transactionJSON {
	out := transactionJSON{
		Fecha:         t.Date.Format(domain.DateLayout),
		Concepto:      t.Concept,
		Cargo:         t.Charge,
		Abono:         t.Credit,
		Saldo:         t.Balance,
		Cuenta:        t.Account,
		Estado:        string(t.State),
		Periodo:       t.Period,
		UniqueConcept: t.UniqueConcept,
		SourceFile:    t.SourceFile,
		Grupo:         t.Enrichment.CategoryGroup,
		Subgrupo:      t.Enrichment.CategorySubgroup,
		Beneficiario:  t.Enrichment.Beneficiary,
	}
	if !t.SourceFileDate.IsZero() {
		out.SourceFileDate = t.SourceFileDate.Format(domain.DateLayout)
	}
	return out
}

// GetTransactions handles GET /api/transactions?table=<name>
func (h *APIHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	table := r.URL.Query().Get("table")
	txns, err := h.store.Transactions(r.Context(), table)
	if err != nil {
		if errors.Is(err, store.ErrTableMissing) {
			http.Error(w, "Unknown table", http.StatusBadRequest)
			return
		}
		http.Error(w, "Failed to fetch transactions", http.StatusInternalServerError)
		return
	}

	out := make([]transactionJSON, len(txns))
	for i := range txns {
		out[i] = toJSON(&txns[i])
	}
	writeJSON(w, out)
}

// GetAccounts handles GET /api/accounts
func (h *APIHandler) GetAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	accounts, err := h.store.Accounts(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch accounts", http.StatusInternalServerError)
		return
	}
	writeJSON(w, accounts)
}

// GetCategories handles GET /api/categories
func (h *APIHandler) GetCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	categories, err := h.store.Categories(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch categories", http.StatusInternalServerError)
		return
	}
	writeJSON(w, categories)
}

// GetBeneficiaries handles GET /api/beneficiaries
func (h *APIHandler) GetBeneficiaries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	beneficiaries, err := h.store.Beneficiaries(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch beneficiaries", http.StatusInternalServerError)
		return
	}
	writeJSON(w, beneficiaries)
}

// categorizeRequest identifies a row by its business key and carries the
// enrichment values to set.
type categorizeRequest struct {
	Table         string  `json:"table"`
	Fecha         string  `json:"fecha"`
	UniqueConcept string  `json:"unique_concept"`
	Cargo         float64 `json:"cargo"`
	Abono         float64 `json:"abono"`
	Grupo         string  `json:"grupo"`
	Subgrupo      string  `json:"subgrupo"`
	Beneficiario  string  `json:"beneficiario"`
}

// Categorize handles POST /api/categorize
func (h *APIHandler) Categorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req categorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	date, err := time.Parse(domain.DateLayout, req.Fecha)
	if err != nil {
		http.Error(w, "Invalid fecha (expected YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	txn := &domain.Transaction{
		Date:          date,
		UniqueConcept: req.UniqueConcept,
		Charge:        req.Cargo,
		Credit:        req.Abono,
	}
	enrichment := domain.Enrichment{
		CategoryGroup:    req.Grupo,
		CategorySubgroup: req.Subgrupo,
		Beneficiary:      req.Beneficiario,
	}

	if err := h.store.Categorize(r.Context(), req.Table, txn, enrichment); err != nil {
		switch {
		case errors.Is(err, store.ErrTableMissing):
			http.Error(w, "Unknown table", http.StatusBadRequest)
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "Transaction not found", http.StatusNotFound)
		default:
			http.Error(w, "Failed to categorize transaction", http.StatusInternalServerError)
		}
		return
	}

	// Manual edits override the rules engine, so keep a who-did-what trail.
	editor := "local"
	if info, ok := middleware.GetAuth(r); ok {
		editor = info.Email
		if editor == "" {
			editor = info.UserID
		}
	}
	log.Printf("categorize: %s %s %s by %s", req.Table, req.Fecha, req.UniqueConcept, editor)

	// Keep the catalogs in sync with what was just used.
	if req.Grupo != "" {
		if err := h.store.UpsertCategory(r.Context(), store.Category{Group: req.Grupo, Subgroup: req.Subgrupo}); err != nil {
			log.Printf("ERROR: Failed to record category %s/%s: %v", req.Grupo, req.Subgrupo, err)
		}
	}
	if req.Beneficiario != "" {
		if err := h.store.AddBeneficiary(r.Context(), req.Beneficiario); err != nil {
			log.Printf("ERROR: Failed to record beneficiary %s: %v", req.Beneficiario, err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: Failed to encode response: %v", err)
	}
}
