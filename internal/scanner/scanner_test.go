package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("Fecha,Concepto\n"), 0o644))
}

func testLayout(t *testing.T) (Layout, string) {
	t.Helper()
	root := t.TempDir()
	return Layout{
		CurrentRoot: filepath.Join(root, "Info Bancaria"),
		ArchiveRoot: filepath.Join(root, "Info Bancaria", "Meses cerrados", "Repositorio por mes"),
		StagingRoot: filepath.Join(root, "Info Bancaria", "Descargas temporales"),
	}, root
}

func TestScan_FindsStatementFiles(t *testing.T) {
	layout, _ := testLayout(t)
	writeFile(t, filepath.Join(layout.CurrentRoot, "2025-03", "edocta 5512.csv"))
	writeFile(t, filepath.Join(layout.ArchiveRoot, "2025-01", "edocta 5512.csv"))
	writeFile(t, filepath.Join(layout.StagingRoot, "movimientos.ofx"))
	writeFile(t, filepath.Join(layout.CurrentRoot, "2025-03", "notas.txt"))

	s := New(layout)
	results, err := s.Scan()
	require.NoError(t, err)

	require.Len(t, results, 3)
	byOrigin := map[Origin]int{}
	for _, c := range results {
		byOrigin[c.Origin]++
	}
	assert.Equal(t, 1, byOrigin[OriginCurrent])
	assert.Equal(t, 1, byOrigin[OriginArchive])
	assert.Equal(t, 1, byOrigin[OriginStaging])

	for _, c := range results {
		assert.NotEqual(t, ".txt", filepath.Ext(c.Path))
	}
}

func TestScan_PeriodExtraction(t *testing.T) {
	layout, _ := testLayout(t)
	writeFile(t, filepath.Join(layout.ArchiveRoot, "2025-01", "edocta.csv"))
	writeFile(t, filepath.Join(layout.ArchiveRoot, "sin periodo", "edocta.csv"))

	s := New(Layout{ArchiveRoot: layout.ArchiveRoot})
	results, err := s.Scan()
	require.NoError(t, err)
	require.Len(t, results, 2)

	periods := map[string]string{}
	for _, c := range results {
		periods[filepath.Base(filepath.Dir(c.Path))] = c.Period
	}
	assert.Equal(t, "2025-01", periods["2025-01"])
	assert.Equal(t, "", periods["sin periodo"])
}

func TestScan_MissingRootsSkipped(t *testing.T) {
	s := New(Layout{
		CurrentRoot: filepath.Join(t.TempDir(), "does-not-exist"),
	})
	results, err := s.Scan()
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestScanStaging(t *testing.T) {
	layout, _ := testLayout(t)
	writeFile(t, filepath.Join(layout.StagingRoot, "descarga.csv"))
	writeFile(t, filepath.Join(layout.CurrentRoot, "2025-03", "edocta.csv"))

	s := New(layout)
	results, err := s.ScanStaging()
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OriginStaging, results[0].Origin)
}

func TestPlace_MovesIntoPeriodFolders(t *testing.T) {
	layout, _ := testLayout(t)
	s := New(layout)

	staged := filepath.Join(layout.StagingRoot, "edocta 5512.csv")
	writeFile(t, staged)

	dest, err := s.PlaceArchive(staged, "2025-01")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(layout.ArchiveRoot, "2025-01", "edocta 5512.csv"), dest)
	assert.NoFileExists(t, staged)
	assert.FileExists(t, dest)

	// The relocated file is found by the next full scan with its period.
	results, err := s.Scan()
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OriginArchive, results[0].Origin)
	assert.Equal(t, "2025-01", results[0].Period)
}

func TestPlace_ReplacesExistingCopy(t *testing.T) {
	layout, _ := testLayout(t)
	s := New(layout)

	writeFile(t, filepath.Join(layout.CurrentRoot, "2025-03", "edocta.csv"))
	staged := filepath.Join(layout.StagingRoot, "edocta.csv")
	require.NoError(t, os.MkdirAll(layout.StagingRoot, 0o755))
	require.NoError(t, os.WriteFile(staged, []byte("Fecha,Concepto\nnuevo\n"), 0o644))

	dest, err := s.PlaceCurrent(staged, "2025-03")
	require.NoError(t, err)

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(content), "nuevo")
}

func TestPlace_RejectsBadPeriod(t *testing.T) {
	layout, _ := testLayout(t)
	s := New(layout)

	staged := filepath.Join(layout.StagingRoot, "edocta.csv")
	writeFile(t, staged)

	_, err := s.PlaceArchive(staged, "marzo")
	assert.Error(t, err)
	assert.FileExists(t, staged)

	_, err = New(Layout{}).PlaceCurrent(staged, "2025-03")
	assert.Error(t, err)
}

func TestLooksLikePeriod(t *testing.T) {
	assert.True(t, looksLikePeriod("2025-03"))
	assert.False(t, looksLikePeriod("2025-3"))
	assert.False(t, looksLikePeriod("abcd-03"))
	assert.False(t, looksLikePeriod("2025/03"))
}
