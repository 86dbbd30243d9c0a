package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/bankload/internal/domain"
	"github.com/rumor-ml/commons.systems/bankload/internal/middleware"
	"github.com/rumor-ml/commons.systems/bankload/internal/store"
)

func seededHandler(t *testing.T) (*APIHandler, *store.Store) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "bankload.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	txn, err := domain.NewTransaction(
		time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
		"PAGO REF 12345 OXXO", 1234.50, 0, "5512", domain.StateOpen)
	require.NoError(t, err)
	require.NoError(t, st.Upsert(ctx, store.TableDebitOpen, []domain.Transaction{*txn}))
	require.NoError(t, st.UpsertAccount(ctx, domain.Account{Number: "5512", Type: domain.AccountTypeDebit}))

	return NewAPIHandler(st), st
}

func TestHealthCheck(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGetTransactions(t *testing.T) {
	h, _ := seededHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/transactions?table="+store.TableDebitOpen, nil)
	rec := httptest.NewRecorder()
	h.GetTransactions(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got []transactionJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "2025-03-10", got[0].Fecha)
	assert.Equal(t, "12345", got[0].UniqueConcept)
	assert.Equal(t, 1234.50, got[0].Cargo)
}

func TestGetTransactions_UnknownTable(t *testing.T) {
	h, _ := seededHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/transactions?table=nope", nil)
	rec := httptest.NewRecorder()
	h.GetTransactions(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTransactions_MethodNotAllowed(t *testing.T) {
	h, _ := seededHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/transactions", nil)
	rec := httptest.NewRecorder()
	h.GetTransactions(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGetAccounts(t *testing.T) {
	h, _ := seededHandler(t)

	rec := httptest.NewRecorder()
	h.GetAccounts(rec, httptest.NewRequest(http.MethodGet, "/api/accounts", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var accounts []domain.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accounts))
	require.Len(t, accounts, 1)
	assert.Equal(t, "5512", accounts[0].Number)
}

func TestCategorize_RoundTrip(t *testing.T) {
	h, st := seededHandler(t)

	body := `{
		"table": "debito_abierto",
		"fecha": "2025-03-10",
		"unique_concept": "12345",
		"cargo": 1234.50,
		"abono": 0,
		"grupo": "Gastos",
		"subgrupo": "Conveniencia",
		"beneficiario": "OXXO"
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/categorize", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Categorize(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)

	txns, err := st.Transactions(context.Background(), store.TableDebitOpen)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "Gastos", txns[0].Enrichment.CategoryGroup)
	assert.Equal(t, "OXXO", txns[0].Enrichment.Beneficiary)

	// The catalogs learned the values used.
	categories, err := st.Categories(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 1)
	assert.Equal(t, "Gastos", categories[0].Group)

	beneficiaries, err := st.Beneficiaries(context.Background())
	require.NoError(t, err)
	assert.Contains(t, beneficiaries, "OXXO")
}

func TestCategorize_AuditsEditor(t *testing.T) {
	h, _ := seededHandler(t)

	var logs bytes.Buffer
	log.SetOutput(&logs)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	body := `{"table":"debito_abierto","fecha":"2025-03-10","unique_concept":"12345","cargo":1234.50,"abono":0,"grupo":"Gastos"}`
	ctx := context.WithValue(context.Background(), middleware.AuthKey,
		middleware.AuthInfo{UserID: "user-1", Email: "ana@banco.mx"})
	req := httptest.NewRequest(http.MethodPost, "/api/categorize", strings.NewReader(body)).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Categorize(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, logs.String(), "ana@banco.mx")

	// Unauthenticated local mode still records the edit.
	logs.Reset()
	req = httptest.NewRequest(http.MethodPost, "/api/categorize", strings.NewReader(body))
	rec = httptest.NewRecorder()
	h.Categorize(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, logs.String(), "by local")
}

func TestCategorize_NotFound(t *testing.T) {
	h, _ := seededHandler(t)

	body := `{"table":"debito_abierto","fecha":"2025-03-10","unique_concept":"99999","cargo":1,"abono":0,"grupo":"X"}`
	req := httptest.NewRequest(http.MethodPost, "/api/categorize", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Categorize(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCategorize_BadDate(t *testing.T) {
	h, _ := seededHandler(t)

	body := `{"table":"debito_abierto","fecha":"10/03/2025","unique_concept":"12345"}`
	req := httptest.NewRequest(http.MethodPost, "/api/categorize", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Categorize(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
