package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tibesept/prime-qecc-v2/internal/bttree"
	"github.com/tibesept/prime-qecc-v2/internal/holo"
	"github.com/tibesept/prime-qecc-v2/internal/pipeline"
	"github.com/tibesept/prime-qecc-v2/internal/weil"
)

func sampleReport(t *testing.T) *pipeline.ConnectionReport {
	t.Helper()
	tree, err := bttree.Build(2, 1, nil)
	require.NoError(t, err)
	return &pipeline.ConnectionReport{
		FormulaTerms: weil.Terms{Archimedean: 1.5, PrimeSum: -1.4, ZeroSum: 0.1},
		PerPrime:     []weil.PrimeTerm{{Prime: 2, Value: -0.9}, {Prime: 3, Value: -0.5}},
		Tree:         tree,
		Score:        &holo.Score{PerVertexCharge: []float64{0.2, 0.1, 0.05, 0.05}},
	}
}

func TestSaveReportWritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	cfg := &OutputConfig{
		Directory:      dir,
		FilenamePrefix: "testrun",
		SaveVertexCSV:  true,
		SavePrimeCSV:   true,
	}
	storage := NewStorage(cfg, newLogger("error"))

	require.NoError(t, storage.SaveReport(sampleReport(t)))

	data, err := os.ReadFile(filepath.Join(dir, "testrun_report.json"))
	require.NoError(t, err)
	var decoded pipeline.ConnectionReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.InDelta(t, 1.5, decoded.FormulaTerms.Archimedean, 1e-15)
	require.NotNil(t, decoded.Tree)
	assert.Equal(t, 2, decoded.Tree.P)

	vertices, err := os.ReadFile(filepath.Join(dir, "testrun_vertices.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(vertices), "id,depth,parent,bulk_value")

	primes, err := os.ReadFile(filepath.Join(dir, "testrun_primes.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(primes), "prime,contribution")
}

func TestStorageDefaultPrefix(t *testing.T) {
	dir := t.TempDir()
	storage := NewStorage(&OutputConfig{Directory: dir}, newLogger("error"))
	require.NoError(t, storage.SaveReport(sampleReport(t)))
	_, err := os.Stat(filepath.Join(dir, "primeqecc_report.json"))
	assert.NoError(t, err)
}
