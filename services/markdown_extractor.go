package services

import (
	"regexp"
	"strings"

	"rag-document-pipeline/models"
)

var (
	mdHeading   = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	mdListItem  = regexp.MustCompile(`^\s*([-*+]|\d{1,3}[.)])\s+(.*)$`)
	mdTableRow  = regexp.MustCompile(`^\s*\|.*\|\s*$`)
	mdSeparator = regexp.MustCompile(`^\s*\|?[\s:|-]+\|?\s*$`)
)

// ExtractMarkdown parses Markdown (and plain text) line by line into typed
// blocks on a single page: ATX headings become titles, list markers become
// list items, pipe tables become table blocks, and blank-line separated runs
// of prose become paragraphs.
func ExtractMarkdown(doc *models.Document, data []byte) ([]models.Page, error) {
	builder := newBlockPageBuilder(doc.ID, 0)

	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	var paragraph []string
	var tableRows []string
	inCodeFence := false

	flushParagraph := func() {
		if len(paragraph) > 0 {
			builder.add(models.BlockParagraph, strings.Join(paragraph, " "))
			paragraph = nil
		}
	}
	flushTable := func() {
		if len(tableRows) > 0 {
			builder.addTable(markdownTable(tableRows))
			tableRows = nil
		}
	}

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inCodeFence = !inCodeFence
			continue
		}
		if inCodeFence {
			paragraph = append(paragraph, line)
			continue
		}

		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			flushParagraph()
			flushTable()

		case mdTableRow.MatchString(line):
			flushParagraph()
			if !mdSeparator.MatchString(line) {
				tableRows = append(tableRows, line)
			}

		case mdHeading.MatchString(trimmed):
			flushParagraph()
			flushTable()
			m := mdHeading.FindStringSubmatch(trimmed)
			builder.add(models.BlockTitle, strings.TrimSpace(m[2]))

		case mdListItem.MatchString(line):
			flushParagraph()
			flushTable()
			m := mdListItem.FindStringSubmatch(line)
			builder.add(models.BlockListItem, strings.TrimSpace(m[2]))

		default:
			flushTable()
			paragraph = append(paragraph, trimmed)
		}
	}
	flushParagraph()
	flushTable()

	return []models.Page{builder.page()}, nil
}

// markdownTable parses pipe-table rows into a dense grid. Short rows are
// padded with empty cells; Markdown has no merged cells.
func markdownTable(rows []string) *models.TableData {
	grid := make([][]string, 0, len(rows))
	cols := 0

	for _, row := range rows {
		trimmed := strings.Trim(strings.TrimSpace(row), "|")
		cells := strings.Split(trimmed, "|")
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		if len(cells) > cols {
			cols = len(cells)
		}
		grid = append(grid, cells)
	}

	for i, row := range grid {
		for len(row) < cols {
			row = append(row, "")
		}
		grid[i] = row
	}

	return &models.TableData{Rows: len(grid), Cols: cols, Cells: grid}
}
