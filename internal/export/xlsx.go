// Package export writes the analysis of a dataset to spreadsheet files.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/chemdata-visualizer/client/internal/models"
)

const (
	SheetRecords = "Raw Data"
	SheetSummary = "Summary"
)

// RecordHeader is the header row of the records sheet.
var RecordHeader = []string{"ID", "Equipment Name", "Type", "Flowrate", "Pressure", "Temperature"}

// FileName is the export name for a dataset.
func FileName(datasetID int) string {
	return fmt.Sprintf("dataset_%d.xlsx", datasetID)
}

// WriteXLSX writes records in received order and the statistics summary as
// an XLSX workbook.
func WriteXLSX(w io.Writer, datasetID int, stats *models.DatasetStats, records []models.EquipmentRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetRecords); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetSummary); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E7FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	decimalStyle, err := f.NewStyle(&excelize.Style{NumFmt: 2}) // 0.00
	if err != nil {
		return fmt.Errorf("failed to create number style: %w", err)
	}

	if err := writeRecords(f, headerStyle, records); err != nil {
		return err
	}
	if err := writeSummary(f, headerStyle, decimalStyle, datasetID, stats); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeRecords(f *excelize.File, headerStyle int, records []models.EquipmentRecord) error {
	header := make([]any, len(RecordHeader))
	for i, h := range RecordHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(SheetRecords, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := f.SetCellStyle(SheetRecords, "A1", "F1", headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{r.ID, r.EquipmentName, r.EquipmentType, r.Flowrate, r.Pressure, r.Temperature}
		if err := f.SetSheetRow(SheetRecords, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	for col, width := range map[string]float64{"A": 8, "B": 24, "C": 16, "D": 12, "E": 12, "F": 14} {
		if err := f.SetColWidth(SheetRecords, col, col, width); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}
	return f.SetPanes(SheetRecords, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func writeSummary(f *excelize.File, headerStyle, decimalStyle, datasetID int, stats *models.DatasetStats) error {
	if stats == nil {
		stats = &models.DatasetStats{}
	}
	rows := [][]any{
		{"Dataset", fmt.Sprintf("Dataset #%d", datasetID)},
		{"Total Count", stats.TotalCount},
		{"Avg Flowrate", stats.AverageFlowrate},
		{"Avg Pressure", stats.AveragePressure},
		{"Avg Temperature", stats.AverageTemperature},
		{},
		{"Type", "Count"},
	}
	for _, tc := range stats.TypeDistribution {
		rows = append(rows, []any{tc.Type, tc.Count})
	}

	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetSummary, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary row %d: %w", i+1, err)
		}
	}

	if err := f.SetCellStyle(SheetSummary, "B3", "B5", decimalStyle); err != nil {
		return fmt.Errorf("failed to set number style: %w", err)
	}
	if err := f.SetCellStyle(SheetSummary, "A7", "B7", headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	return f.SetColWidth(SheetSummary, "A", "A", 18)
}
