package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/tibesept/prime-qecc-v2/internal/pipeline"
)

// Storage writes run artifacts under the configured output directory:
// the JSON reports consumed by the dashboard layer plus optional CSV tables
// for spreadsheet-style inspection.
type Storage struct {
	cfg    *OutputConfig
	logger *logrus.Logger
}

func NewStorage(cfg *OutputConfig, logger *logrus.Logger) *Storage {
	return &Storage{cfg: cfg, logger: logger}
}

func (s *Storage) path(suffix string) string {
	prefix := s.cfg.FilenamePrefix
	if prefix == "" {
		prefix = "primeqecc"
	}
	return filepath.Join(s.cfg.Directory, prefix+suffix)
}

func (s *Storage) writeJSON(path string, v any) error {
	if err := os.MkdirAll(s.cfg.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	s.logger.Infof("Saved %s", path)
	return nil
}

// SaveReport writes the connection report and, when enabled, the per-vertex
// and per-prime CSV tables.
func (s *Storage) SaveReport(report *pipeline.ConnectionReport) error {
	if err := s.writeJSON(s.path("_report.json"), report); err != nil {
		return err
	}
	if s.cfg.SaveVertexCSV {
		if err := s.saveVertexCSV(report); err != nil {
			return err
		}
	}
	if s.cfg.SavePrimeCSV {
		if err := s.savePrimeCSV(report); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) saveVertexCSV(report *pipeline.ConnectionReport) error {
	path := s.path("_vertices.csv")
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to open vertices file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"id", "depth", "parent", "bulk_value"}); err != nil {
		return err
	}
	for _, v := range report.Tree.Vertices {
		record := []string{
			strconv.Itoa(v.ID),
			strconv.Itoa(v.Depth),
			strconv.Itoa(v.Parent),
			strconv.FormatFloat(report.Score.PerVertexCharge[v.ID], 'e', 10, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush vertices file: %w", err)
	}
	s.logger.Infof("Saved %s (%d vertices)", path, len(report.Tree.Vertices))
	return nil
}

func (s *Storage) savePrimeCSV(report *pipeline.ConnectionReport) error {
	path := s.path("_primes.csv")
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to open primes file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"prime", "contribution"}); err != nil {
		return err
	}
	for _, pt := range report.PerPrime {
		record := []string{
			strconv.Itoa(pt.Prime),
			strconv.FormatFloat(pt.Value, 'e', 10, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush primes file: %w", err)
	}
	s.logger.Infof("Saved %s (%d primes)", path, len(report.PerPrime))
	return nil
}

func (s *Storage) SaveSweep(report *pipeline.SweepReport) error {
	return s.writeJSON(s.path("_sweep.json"), report)
}

func (s *Storage) SaveResonance(report *pipeline.ResonanceReport) error {
	return s.writeJSON(s.path("_resonance.json"), report)
}
