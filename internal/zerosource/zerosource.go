// Package zerosource loads ordered Riemann zero heights from local tables.
// Each nontrivial zero 1/2 + i*gamma is represented by its height gamma > 0.
// Supported layouts: plain text (one height per line, optionally prefixed by
// an index, as in Odlyzko's zeros1 table), CSV (index,height) and a JSON
// cache written by SaveCache. The loaded sequence is immutable input for the
// rest of the pipeline.
package zerosource

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	// ErrDataUnavailable marks a missing or unparsable zero table.
	ErrDataUnavailable = errors.New("zero dataset unavailable")

	// ErrInvalidSequence marks an unsorted or malformed zero sequence.
	ErrInvalidSequence = errors.New("invalid zero sequence")
)

// ZeroRecord is a single nontrivial zero height.
type ZeroRecord struct {
	Index        int     `json:"index"`
	Height       float64 `json:"height"`
	Multiplicity int     `json:"multiplicity,omitempty"`
}

// EffectiveMultiplicity treats the zero as simple unless recorded otherwise.
func (z ZeroRecord) EffectiveMultiplicity() int {
	if z.Multiplicity <= 0 {
		return 1
	}
	return z.Multiplicity
}

// Loader reads zero tables from disk.
type Loader struct {
	logger *logrus.Logger
}

func NewLoader(logger *logrus.Logger) *Loader {
	if logger == nil {
		logger = logrus.New()
	}
	return &Loader{logger: logger}
}

// Load reads at most maxZeros records from path, dispatching on the file
// extension, and validates the sequence invariants. maxZeros <= 0 loads the
// whole table.
func (l *Loader) Load(path string, maxZeros int) ([]ZeroRecord, error) {
	var (
		records []ZeroRecord
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		records, err = l.loadJSON(path, maxZeros)
	case ".csv":
		records, err = l.loadCSV(path, maxZeros)
	default:
		records, err = l.loadText(path, maxZeros)
	}
	if err != nil {
		return nil, err
	}
	if err := Validate(records); err != nil {
		return nil, err
	}
	l.logger.Infof("Loaded %d zero heights from %s (gamma_1=%.6f, gamma_max=%.6f)",
		len(records), path, records[0].Height, records[len(records)-1].Height)
	return records, nil
}

func (l *Loader) loadText(path string, maxZeros int) ([]ZeroRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	defer file.Close()

	var records []ZeroRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Odlyzko tables sometimes carry a leading index column; the
		// height is always the last token.
		fields := strings.Fields(line)
		height, err := strconv.ParseFloat(fields[len(fields)-1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %q: %v", ErrDataUnavailable, line, err)
		}
		records = append(records, ZeroRecord{Index: len(records) + 1, Height: height})
		if maxZeros > 0 && len(records) >= maxZeros {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s contains no zero heights", ErrDataUnavailable, path)
	}
	return records, nil
}

func (l *Loader) loadCSV(path string, maxZeros int) ([]ZeroRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}

	var records []ZeroRecord
	for i, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("%w: row %d has %d fields, want 2", ErrDataUnavailable, i+1, len(row))
		}
		// Skip a header row if present.
		if i == 0 {
			if _, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64); err != nil {
				continue
			}
		}
		index, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil {
			return nil, fmt.Errorf("%w: row %d index %q: %v", ErrDataUnavailable, i+1, row[0], err)
		}
		height, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d height %q: %v", ErrDataUnavailable, i+1, row[1], err)
		}
		records = append(records, ZeroRecord{Index: index, Height: height})
		if maxZeros > 0 && len(records) >= maxZeros {
			break
		}
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s contains no zero heights", ErrDataUnavailable, path)
	}
	return records, nil
}

func (l *Loader) loadJSON(path string, maxZeros int) ([]ZeroRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	var records []ZeroRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	if maxZeros > 0 && len(records) > maxZeros {
		records = records[:maxZeros]
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s contains no zero heights", ErrDataUnavailable, path)
	}
	return records, nil
}

// SaveCache writes records as the JSON cache layout understood by Load.
func SaveCache(path string, records []ZeroRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate enforces the sequence invariants: positive heights, strictly
// increasing order, duplicates only via an explicit multiplicity.
func Validate(records []ZeroRecord) error {
	if len(records) == 0 {
		return fmt.Errorf("%w: empty sequence", ErrInvalidSequence)
	}
	prev := 0.0
	for i, z := range records {
		if z.Height <= 0 {
			return fmt.Errorf("%w: record %d has non-positive height %g", ErrInvalidSequence, i, z.Height)
		}
		if z.Height <= prev {
			return fmt.Errorf("%w: record %d height %g does not exceed previous %g",
				ErrInvalidSequence, i, z.Height, prev)
		}
		prev = z.Height
	}
	return nil
}

// firstFive are the leading zero heights from Odlyzko's tables, used as a
// dataset sanity anchor.
var firstFive = []float64{
	14.134725142,
	21.022039639,
	25.010857580,
	30.424876126,
	32.935061588,
}

// VerifyFirstFive checks the leading records against the known first five
// zero heights. Tables with fewer than five records are checked as far as
// they go.
func VerifyFirstFive(records []ZeroRecord) error {
	const tol = 1e-6
	n := len(records)
	if n > 5 {
		n = 5
	}
	for i := 0; i < n; i++ {
		if d := records[i].Height - firstFive[i]; d > tol || d < -tol {
			return fmt.Errorf("%w: gamma_%d = %.9f, expected %.9f",
				ErrInvalidSequence, i+1, records[i].Height, firstFive[i])
		}
	}
	return nil
}
