package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/bankload/internal/domain"
)

const testRules = `
rules:
  - name: oxxo
    pattern: "oxxo"
    match_type: contains
    priority: 100
    group: "Gastos"
    subgroup: "Conveniencia"

  - name: oxxo-gas
    pattern: "oxxo gas"
    match_type: contains
    priority: 200
    group: "Auto"
    subgroup: "Gasolina"

  - name: membership
    pattern: "comision membresia"
    match_type: exact
    priority: 150
    beneficiary: "Banorte"
`

func testEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine([]byte(testRules))
	require.NoError(t, err)
	return e
}

func TestNewEngine_SortsByPriority(t *testing.T) {
	e := testEngine(t)
	rules := e.GetRules()
	require.Len(t, rules, 3)
	assert.Equal(t, "oxxo-gas", rules[0].Name)
	assert.Equal(t, "membership", rules[1].Name)
	assert.Equal(t, "oxxo", rules[2].Name)
}

func TestNewEngine_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "empty pattern",
			yaml: "rules:\n  - name: bad\n    pattern: \"  \"\n    match_type: contains\n    group: X\n",
			want: "pattern cannot be empty",
		},
		{
			name: "bad match type",
			yaml: "rules:\n  - name: bad\n    pattern: x\n    match_type: regex\n    group: X\n",
			want: "invalid match_type",
		},
		{
			name: "priority out of range",
			yaml: "rules:\n  - name: bad\n    pattern: x\n    match_type: contains\n    priority: 1000\n    group: X\n",
			want: "priority must be in [0,999]",
		},
		{
			name: "no enrichment values",
			yaml: "rules:\n  - name: bad\n    pattern: x\n    match_type: contains\n",
			want: "at least one of group, subgroup, beneficiary",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMatch_PriorityOrder(t *testing.T) {
	e := testEngine(t)

	// Both oxxo rules match; the higher priority one wins.
	rule, ok := e.Match("CARGO OXXO GAS 123")
	require.True(t, ok)
	assert.Equal(t, "oxxo-gas", rule.Name)

	rule, ok = e.Match("CARGO OXXO TIENDA")
	require.True(t, ok)
	assert.Equal(t, "oxxo", rule.Name)
}

func TestMatch_Exact(t *testing.T) {
	e := testEngine(t)

	rule, ok := e.Match("  Comision Membresia  ")
	require.True(t, ok)
	assert.Equal(t, "membership", rule.Name)

	_, ok = e.Match("COMISION MEMBRESIA ANUAL")
	assert.False(t, ok)
}

func TestMatch_NoMatch(t *testing.T) {
	e := testEngine(t)
	_, ok := e.Match("TRASPASO ENTRE CUENTAS")
	assert.False(t, ok)
}

func TestApply_FillsOnlyBlanks(t *testing.T) {
	e := testEngine(t)

	txn := &domain.Transaction{Concept: "CARGO OXXO TIENDA"}
	txn.Enrichment.CategoryGroup = "Manual"

	applied := e.Apply(txn)
	assert.True(t, applied)
	assert.Equal(t, "Manual", txn.Enrichment.CategoryGroup)
	assert.Equal(t, "Conveniencia", txn.Enrichment.CategorySubgroup)
}

func TestApply_NoMatchLeavesTransaction(t *testing.T) {
	e := testEngine(t)

	txn := &domain.Transaction{Concept: "TRASPASO ENTRE CUENTAS"}
	applied := e.Apply(txn)
	assert.False(t, applied)
	assert.Equal(t, domain.Enrichment{}, txn.Enrichment)
}

func TestLoadEmbedded(t *testing.T) {
	e, err := LoadEmbedded()
	require.NoError(t, err)
	assert.NotEmpty(t, e.GetRules())
}
