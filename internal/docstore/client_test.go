package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/bankload/internal/domain"
)

func TestStatementFileValidate(t *testing.T) {
	valid := StatementFile{
		CutoffPeriod:  "2025-03",
		AccountNumber: "5512",
		Type:          domain.AccountTypeCredit,
	}
	require.NoError(t, valid.Validate())

	missingPeriod := valid
	missingPeriod.CutoffPeriod = ""
	assert.Error(t, missingPeriod.Validate())

	missingAccount := valid
	missingAccount.AccountNumber = ""
	assert.Error(t, missingAccount.Validate())

	badType := valid
	badType.Type = "savings"
	assert.Error(t, badType.Validate())
}

func TestStatementDocID(t *testing.T) {
	id := statementDocID("2025-03", "5512", domain.AccountTypeDebit)
	assert.Equal(t, "2025-03_5512_debit", id)
}

func TestNewLoadSession(t *testing.T) {
	s := NewLoadSession()
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, LoadSessionStatusPending, s.Status)
	assert.NotNil(t, s.Stats)
	require.NoError(t, s.Validate())

	other := NewLoadSession()
	assert.NotEqual(t, s.ID, other.ID)
}

func TestLoadSessionValidate(t *testing.T) {
	s := NewLoadSession()

	s.Status = "imaginary"
	assert.Error(t, s.Validate())

	s.Status = LoadSessionStatusCompleted
	s.FileCount = -1
	assert.Error(t, s.Validate())
}
