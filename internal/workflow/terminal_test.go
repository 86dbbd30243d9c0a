package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/bankload/internal/cutoff"
	"github.com/rumor-ml/commons.systems/bankload/internal/domain"
)

func TestTerminalDriver_Fetch(t *testing.T) {
	staging := filepath.Join(t.TempDir(), "Descargas temporales")
	require.NoError(t, os.MkdirAll(staging, 0o755))

	// Leftover from a previous session must not leak into this one.
	require.NoError(t, os.WriteFile(filepath.Join(staging, "viejo.csv"), []byte("x"), 0o644))

	names := []string{"primero.csv", "segundo.csv"}
	step := 0
	prompt := func(string) {
		require.NoError(t, os.WriteFile(filepath.Join(staging, names[step]), []byte("Fecha,Concepto\n"), 0o644))
		step++
	}

	requests := []cutoff.Request{
		{Type: domain.AccountTypeDebit, Period: "2025-03", Account: "5512", Status: domain.StateOpen},
		{Type: domain.AccountTypeDebit, Period: "2025-02", Account: "5512", Status: domain.StateClosed},
	}

	d := NewTerminalDriver(staging, prompt)
	downloads, err := d.Fetch(context.Background(), requests)
	require.NoError(t, err)
	require.Len(t, downloads, 2)

	assert.Equal(t, filepath.Join(staging, "primero.csv"), downloads[0].Path)
	assert.Equal(t, requests[0], downloads[0].Request)
	assert.Equal(t, filepath.Join(staging, "segundo.csv"), downloads[1].Path)
	assert.Equal(t, requests[1], downloads[1].Request)

	_, err = os.Stat(filepath.Join(staging, "viejo.csv"))
	assert.True(t, os.IsNotExist(err))
}

func TestTerminalDriver_MissingDownloadSkipsRequest(t *testing.T) {
	staging := filepath.Join(t.TempDir(), "Descargas temporales")

	d := NewTerminalDriver(staging, func(string) {})
	downloads, err := d.Fetch(context.Background(), []cutoff.Request{
		{Type: domain.AccountTypeCredit, Period: "2025-04", Account: "7788", Status: domain.StateOpen},
	})
	require.NoError(t, err)
	assert.Empty(t, downloads)
}

func TestTerminalDriver_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewTerminalDriver(filepath.Join(t.TempDir(), "staging"), func(string) {})
	_, err := d.Fetch(ctx, []cutoff.Request{
		{Type: domain.AccountTypeDebit, Period: "2025-03", Account: "5512", Status: domain.StateOpen},
	})
	assert.ErrorIs(t, err, context.Canceled)
}
