package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniqueConcept(t *testing.T) {
	tests := []struct {
		name     string
		concept  string
		expected string
	}{
		{
			name:     "digits extracted",
			concept:  "PAGO REF 12345 OXXO",
			expected: "12345",
		},
		{
			name:     "no digits falls back to lowercase letters",
			concept:  "PAGO OXXO",
			expected: "pagooxxo",
		},
		{
			name:     "multiple digit runs concatenated",
			concept:  "SPEI 001 FOLIO 998877",
			expected: "001998877",
		},
		{
			name:     "accents folded before letter fallback",
			concept:  "COMISIÓN MEMBRESÍA",
			expected: "comisionmembresia",
		},
		{
			name:     "punctuation stripped in letter fallback",
			concept:  "PAGO - TARJETA / INTERNET",
			expected: "pagotarjetainternet",
		},
		{
			name:     "empty concept",
			concept:  "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UniqueConcept(tt.concept)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestNormalizeNull(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"empty", "", ""},
		{"nan lowercase", "nan", ""},
		{"NaT mixed case", "NaT", ""},
		{"none", "None", ""},
		{"null uppercase", "NULL", ""},
		{"n/a any case", "N/A", ""},
		{"angle na", "<NA>", ""},
		{"whitespace padded marker", "  null  ", ""},
		{"real value trimmed", "  OXXO GAS  ", "OXXO GAS"},
		{"value containing na substring kept", "BANANA", "BANANA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeNull(tt.raw))
		})
	}
}

func TestNewTransaction(t *testing.T) {
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	txn, err := NewTransaction(date, "PAGO REF 12345 OXXO", 400.50, 0, "1234567890", StateClosed)
	require.NoError(t, err)
	assert.Equal(t, "12345", txn.UniqueConcept)
	assert.Equal(t, "2025-03", txn.Period)
	assert.Equal(t, "2025-03-14|12345|400.50|0.00", txn.Key())
}

func TestNewTransaction_MissingDateGetsSentinel(t *testing.T) {
	txn, err := NewTransaction(time.Time{}, "PAGO OXXO", 0, 120, "1234567890", StateOpen)
	require.NoError(t, err)
	assert.True(t, txn.Date.Equal(SentinelDate))
	assert.Equal(t, "1900-01", txn.Period)
}

func TestNewTransaction_Validation(t *testing.T) {
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	_, err := NewTransaction(date, "X", 1, 0, "", StateOpen)
	assert.Error(t, err, "empty account must be rejected")

	_, err = NewTransaction(date, "X", 1, 0, "123", State("stale"))
	assert.Error(t, err, "unknown state must be rejected")
}

func TestKey_IdenticalForEquivalentConcepts(t *testing.T) {
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	a, err := NewTransaction(date, "PAGO REF 12345 OXXO", 400, 0, "123", StateClosed)
	require.NoError(t, err)
	b, err := NewTransaction(date, "REF:12345 PAGO EN OXXO SUC CENTRO", 400, 0, "123", StateClosed)
	require.NoError(t, err)

	assert.Equal(t, a.Key(), b.Key(), "same digits, date and amounts identify the same economic event")
}

func TestValidateAccountType(t *testing.T) {
	assert.True(t, ValidateAccountType(AccountTypeDebit))
	assert.True(t, ValidateAccountType(AccountTypeCredit))
	assert.False(t, ValidateAccountType(AccountType("checking")))
}
