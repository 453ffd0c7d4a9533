// csv.go - Equipment dataset CSV reading, header pre-flight and sample generation
package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"

	"github.com/chemdata-visualizer/client/internal/models"
)

// Column headers of a dataset CSV, in the order sample files use them.
const (
	ColumnName        = "Equipment Name"
	ColumnType        = "Type"
	ColumnFlowrate    = "Flowrate"
	ColumnPressure    = "Pressure"
	ColumnTemperature = "Temperature"
)

// RequiredColumns lists every header the backend reads from an upload.
var RequiredColumns = []string{ColumnName, ColumnType, ColumnFlowrate, ColumnPressure, ColumnTemperature}

// SampleTypes are the equipment types GenerateSample draws from.
var SampleTypes = []string{"Pump", "Valve", "Tank", "Exchanger", "Mixer", "Pipe", "Reactor", "Separator"}

// ErrEmptyFile is returned when a CSV has no header line.
var ErrEmptyFile = errors.New("csv file is empty")

// HeaderError lists the required columns a CSV header lacks.
type HeaderError struct {
	Missing []string
}

func (e *HeaderError) Error() string {
	return "missing required columns: " + strings.Join(e.Missing, ", ")
}

// ParseError describes one row that could not be read.
type ParseError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// columnIndex maps each required column to its position in the header.
func columnIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}
	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &HeaderError{Missing: missing}
	}
	return idx, nil
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true
	return cr
}

// ValidateHeader reads only the header line and checks the required columns.
func ValidateHeader(r io.Reader) error {
	header, err := newReader(r).Read()
	if err == io.EOF {
		return ErrEmptyFile
	}
	if err != nil {
		return fmt.Errorf("read csv header: %w", err)
	}
	_, err = columnIndex(header)
	return err
}

// ReadRecords parses a whole dataset CSV. Rows that cannot be read are
// reported as ParseErrors and skipped; a bad header fails the whole file.
func ReadRecords(r io.Reader) ([]models.EquipmentRecord, []*ParseError, error) {
	cr := newReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, ErrEmptyFile
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	idx, err := columnIndex(header)
	if err != nil {
		return nil, nil, err
	}

	var (
		records []models.EquipmentRecord
		errs    []*ParseError
	)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				errs = append(errs, &ParseError{Line: perr.Line, Reason: perr.Err.Error()})
				continue
			}
			return nil, nil, err
		}
		if isBlank(row) {
			continue
		}

		rec, reason := recordFromRow(row, idx)
		if reason != "" {
			line, _ := cr.FieldPos(0)
			errs = append(errs, &ParseError{Line: line, Reason: reason})
			continue
		}
		records = append(records, rec)
	}
	return records, errs, nil
}

func recordFromRow(row []string, idx map[string]int) (models.EquipmentRecord, string) {
	field := func(col string) string {
		i := idx[col]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	rec := models.EquipmentRecord{
		EquipmentName: field(ColumnName),
		EquipmentType: field(ColumnType),
	}
	if rec.EquipmentName == "" {
		return rec, "empty " + ColumnName
	}
	if rec.EquipmentType == "" {
		return rec, "empty " + ColumnType
	}

	for _, f := range []struct {
		col string
		dst *float64
	}{
		{ColumnFlowrate, &rec.Flowrate},
		{ColumnPressure, &rec.Pressure},
		{ColumnTemperature, &rec.Temperature},
	} {
		v, err := strconv.ParseFloat(field(f.col), 64)
		if err != nil {
			return rec, fmt.Sprintf("invalid %s %q", f.col, field(f.col))
		}
		*f.dst = v
	}
	return rec, ""
}

func isBlank(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// GenerateSample writes a synthetic dataset of n rows. Values depend on the
// equipment type and are rounded to one decimal.
func GenerateSample(w io.Writer, n int, rng *rand.Rand) error {
	if n < 0 {
		return fmt.Errorf("row count must not be negative, got %d", n)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(RequiredColumns); err != nil {
		return err
	}

	for i := 1; i <= n; i++ {
		typ := SampleTypes[rng.Intn(len(SampleTypes))]
		flow, press, temp := sampleValues(typ, rng)
		row := []string{
			fmt.Sprintf("%s-%03d", typ, i),
			typ,
			formatValue(flow),
			formatValue(press),
			formatValue(temp),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func sampleValues(typ string, rng *rand.Rand) (flow, press, temp float64) {
	between := func(lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }
	switch typ {
	case "Pump":
		return between(100, 150), between(10, 20), between(50, 80)
	case "Valve":
		if rng.Float64() > 0.3 {
			flow = 0
		} else {
			flow = between(50, 100)
		}
		return flow, between(2, 8), between(20, 40)
	case "Exchanger":
		return between(200, 400), between(8, 12), between(80, 120)
	default:
		return between(0, 100), between(0, 5), between(20, 60)
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
