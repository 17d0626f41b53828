package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ExportXLSX writes the journal entries to an Excel workbook with one
// sheet of raw entries and one sheet of per-type counts
func ExportXLSX(entries []Entry, path string) error {
	// Ensure directory exists before creating file
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	const entriesSheet = "Entries"
	const summarySheet = "Summary"

	fx.SetSheetName(fx.GetSheetName(0), entriesSheet)
	if _, err := fx.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	headerStyle, err := fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	// Entries sheet
	headers := []string{"Timestamp", "Type", "Order ID", "User", "Details"}
	for col, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		fx.SetCellValue(entriesSheet, cell, header)
		fx.SetCellStyle(entriesSheet, cell, cell, headerStyle)
	}

	typeCounts := make(map[EntryType]int)
	for i, entry := range entries {
		row := i + 2
		typeCounts[entry.Type]++

		fx.SetCellValue(entriesSheet, fmt.Sprintf("A%d", row), entry.Timestamp.Format("2006-01-02 15:04:05"))
		fx.SetCellValue(entriesSheet, fmt.Sprintf("B%d", row), string(entry.Type))
		fx.SetCellValue(entriesSheet, fmt.Sprintf("C%d", row), entry.OrderID)
		fx.SetCellValue(entriesSheet, fmt.Sprintf("D%d", row), entry.User)
		fx.SetCellValue(entriesSheet, fmt.Sprintf("E%d", row), formatDetails(entry.Details))
	}
	fx.SetColWidth(entriesSheet, "A", "A", 20)
	fx.SetColWidth(entriesSheet, "B", "C", 26)
	fx.SetColWidth(entriesSheet, "E", "E", 60)

	// Summary sheet
	fx.SetCellValue(summarySheet, "A1", "Entry Type")
	fx.SetCellValue(summarySheet, "B1", "Count")
	fx.SetCellStyle(summarySheet, "A1", "B1", headerStyle)

	sortedTypes := make([]string, 0, len(typeCounts))
	for entryType := range typeCounts {
		sortedTypes = append(sortedTypes, string(entryType))
	}
	sort.Strings(sortedTypes)

	for i, entryType := range sortedTypes {
		row := i + 2
		fx.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), entryType)
		fx.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), typeCounts[EntryType(entryType)])
	}
	fx.SetColWidth(summarySheet, "A", "A", 26)

	return fx.SaveAs(path)
}

// formatDetails flattens the details map into "k=v" pairs in key order
func formatDetails(details map[string]string) string {
	if len(details) == 0 {
		return ""
	}

	keys := make([]string, 0, len(details))
	for key := range details {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", key, details[key]))
	}
	return strings.Join(parts, " ")
}
