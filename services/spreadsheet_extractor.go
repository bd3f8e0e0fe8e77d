package services

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"rag-document-pipeline/models"
)

// ExtractSpreadsheet maps each worksheet to one page: a title block carrying
// the sheet name followed by a single table block holding the cell grid with
// merged ranges spread to every covered position. Bare CSV input becomes a
// single-sheet workbook. A sheet that fails to read is recorded and skipped.
func ExtractSpreadsheet(doc *models.Document, data []byte) ([]models.Page, error) {
	if !bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		return extractCSV(doc, data)
	}

	workbook, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer workbook.Close()

	var pages []models.Page
	for idx, sheet := range workbook.GetSheetList() {
		page, err := extractSheet(doc.ID, idx, workbook, sheet)
		if err != nil {
			doc.FailedPages = append(doc.FailedPages, models.PageFailure{
				PageIndex: idx,
				Stage:     "extract",
				Reason:    err.Error(),
			})
			continue
		}
		pages = append(pages, page)
	}

	return pages, nil
}

func extractSheet(docID string, index int, workbook *excelize.File, sheet string) (models.Page, error) {
	rows, err := workbook.GetRows(sheet)
	if err != nil {
		return models.Page{}, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}

	builder := newBlockPageBuilder(docID, index)
	builder.add(models.BlockTitle, sheet)

	grid := denseGrid(rows)
	if grid != nil {
		merges, err := workbook.GetMergeCells(sheet)
		if err == nil {
			spreadMergedCells(grid, merges)
		}
		builder.addTable(&models.TableData{
			Rows:  len(grid),
			Cols:  len(grid[0]),
			Cells: grid,
		})
	}

	return builder.page(), nil
}

// denseGrid pads ragged row data to a rectangle, dropping fully empty sheets.
func denseGrid(rows [][]string) [][]string {
	cols := 0
	nonEmpty := false
	for _, row := range rows {
		if len(row) > cols {
			cols = len(row)
		}
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				nonEmpty = true
			}
		}
	}
	if cols == 0 || !nonEmpty {
		return nil
	}

	grid := make([][]string, len(rows))
	for i, row := range rows {
		padded := make([]string, cols)
		copy(padded, row)
		grid[i] = padded
	}
	return grid
}

// spreadMergedCells copies each merged range's top-left value into every
// covered cell so the grid stays dense.
func spreadMergedCells(grid [][]string, merges []excelize.MergeCell) {
	for _, merge := range merges {
		c0, r0, err := excelize.CellNameToCoordinates(merge.GetStartAxis())
		if err != nil {
			continue
		}
		c1, r1, err := excelize.CellNameToCoordinates(merge.GetEndAxis())
		if err != nil {
			continue
		}

		value := merge.GetCellValue()
		for r := r0 - 1; r < r1 && r < len(grid); r++ {
			for c := c0 - 1; c < c1 && c < len(grid[r]); c++ {
				grid[r][c] = value
			}
		}
	}
}

// extractCSV parses comma-separated input as a single-page table.
func extractCSV(doc *models.Document, data []byte) ([]models.Page, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}

	builder := newBlockPageBuilder(doc.ID, 0)
	grid := denseGrid(rows)
	if grid != nil {
		builder.addTable(&models.TableData{
			Rows:  len(grid),
			Cols:  len(grid[0]),
			Cells: grid,
		})
	}

	return []models.Page{builder.page()}, nil
}
