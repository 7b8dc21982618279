// Package export renders the dashboard view as an xlsx workbook.
package export

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	SeriesSheet  = "Series"
	SummarySheet = "Summary"

	// ContentType MIME type of the workbook
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// SeriesHeader columns of the series sheet
var SeriesHeader = []string{
	"Sensor ID",
	"Reading ID",
	"Timestamp",
	"Humidity (%)",
	"Temperature (C)",
	"Alert Level",
}

var seriesColumnWidths = []float64{18, 14, 22, 14, 16, 14}

// GenerateSeriesWorkbook writes the per-sensor series of view (one row per
// point, sensors in id order) plus a summary sheet. sensorIDs, when not
// empty, restricts the series sheet to those sensors.
func GenerateSeriesWorkbook(view *models.DashboardView, sensorIDs ...string) ([]byte, error) {
	f := excelize.NewFile()
	// WriteTo needs the file open, close explicitly on every path

	index, err := f.NewSheet(SeriesSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeSeriesSheet(f, headerStyle, view, sensorIDs); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeSummarySheet(f, headerStyle, view); err != nil {
		f.Close()
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSeriesSheet(f *excelize.File, headerStyle int, view *models.DashboardView, only []string) error {
	for col, header := range SeriesHeader {
		if err := setCell(f, SeriesSheet, col+1, 1, header); err != nil {
			return err
		}
		colName, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(SeriesSheet, colName, colName, seriesColumnWidths[col]); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(SeriesHeader), 1)
	if err := f.SetCellStyle(SeriesSheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}

	row := 2
	for _, sensorID := range seriesSensorIDs(view, only) {
		for _, p := range view.Series[sensorID] {
			values := []any{
				sensorID,
				p.ReadingID,
				p.Timestamp.Format("2006-01-02 15:04:05"),
				p.HumidityPercentage,
				nil,
				string(p.AlertLevel),
			}
			if p.TemperatureCelsius != nil {
				values[4] = *p.TemperatureCelsius
			}
			for col, v := range values {
				if v == nil || v == "" {
					continue
				}
				if err := setCell(f, SeriesSheet, col+1, row, v); err != nil {
					return fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, col+1, err)
				}
			}
			row++
		}
	}

	if err := f.SetPanes(SeriesSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}
	return nil
}

func writeSummarySheet(f *excelize.File, headerStyle int, view *models.DashboardView) error {
	rows := [][]any{
		{"Metric", "Value"},
		{"Computed At", view.ComputedAt.Format("2006-01-02 15:04:05")},
		{"Total Sensors", view.TotalSensors},
		{"Active Sensors", view.ActiveSensors},
		{"Readings In Window", view.TotalReadings},
		{"Readings Today", view.TodayReadings},
		{"Active Alerts", view.ActiveAlerts},
		{"Humidity Min", view.HumidityStats.Min},
		{"Humidity Max", view.HumidityStats.Max},
		{"Humidity Avg", view.HumidityStats.Avg},
		{"Temperature Min", view.TemperatureStats.Min},
		{"Temperature Max", view.TemperatureStats.Max},
		{"Temperature Avg", view.TemperatureStats.Avg},
	}
	for _, level := range models.AlertLevels {
		rows = append(rows, []any{"Readings " + string(level), view.AlertLevelDistribution[level]})
	}

	for r, values := range rows {
		for c, v := range values {
			if err := setCell(f, SummarySheet, c+1, r+1, v); err != nil {
				return fmt.Errorf("failed to set summary cell: %w", err)
			}
		}
	}
	if err := f.SetCellStyle(SummarySheet, "A1", "B1", headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	return f.SetColWidth(SummarySheet, "A", "A", 22)
}

func seriesSensorIDs(view *models.DashboardView, only []string) []string {
	var ids []string
	if len(only) > 0 {
		for _, id := range only {
			if _, ok := view.Series[id]; ok {
				ids = append(ids, id)
			}
		}
	} else {
		for id := range view.Series {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func setCell(f *excelize.File, sheet string, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, value)
}
