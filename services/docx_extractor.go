package services

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"rag-document-pipeline/models"
)

// ExtractDOCX parses the WordprocessingML body into typed blocks on a single
// page. Heading-styled paragraphs become titles, numbered/bulleted paragraphs
// become list items, and tables keep their grid with gridSpan/vMerge cells
// spread across the positions they cover.
func ExtractDOCX(doc *models.Document, data []byte) ([]models.Page, error) {
	content, err := readZipEntry(data, "word/document.xml")
	if err != nil {
		return nil, err
	}

	var parsed docxDocument
	if err := xml.Unmarshal(content, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse document body: %w", err)
	}

	builder := newBlockPageBuilder(doc.ID, 0)
	for _, item := range parsed.Body.Items {
		switch v := item.(type) {
		case *docxPara:
			builder.add(v.blockType(), v.text())
		case *docxTable:
			builder.addTable(v.grid())
		}
	}

	return []models.Page{builder.page()}, nil
}

func readZipEntry(data []byte, name string) ([]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open container: %w", err)
	}
	for _, f := range reader.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("missing %s", name)
}

type docxDocument struct {
	Body docxBody `xml:"body"`
}

// docxBody preserves the interleaved order of paragraphs and tables, which
// plain struct tags would lose.
type docxBody struct {
	Items []interface{}
}

func (b *docxBody) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				var p docxPara
				if err := d.DecodeElement(&p, &t); err != nil {
					return err
				}
				b.Items = append(b.Items, &p)
			case "tbl":
				var tbl docxTable
				if err := d.DecodeElement(&tbl, &t); err != nil {
					return err
				}
				b.Items = append(b.Items, &tbl)
			}
		case xml.EndElement:
			if t.Name == start.Name {
				return nil
			}
		}
	}
}

type docxVal struct {
	Val string `xml:"val,attr"`
}

type docxPara struct {
	Props docxParaProps   `xml:"pPr"`
	Runs  []docxRun       `xml:"r"`
	Links []docxHyperlink `xml:"hyperlink"`
}

type docxParaProps struct {
	Style *docxVal  `xml:"pStyle"`
	NumPr *struct{} `xml:"numPr"`
}

type docxRun struct {
	Texts []string `xml:"t"`
}

type docxHyperlink struct {
	Runs []docxRun `xml:"r"`
}

func (p *docxPara) text() string {
	var sb strings.Builder
	for _, r := range p.Runs {
		for _, t := range r.Texts {
			sb.WriteString(t)
		}
	}
	for _, l := range p.Links {
		for _, r := range l.Runs {
			for _, t := range r.Texts {
				sb.WriteString(t)
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

func (p *docxPara) blockType() models.BlockType {
	if p.Props.Style != nil && strings.HasPrefix(strings.ToLower(p.Props.Style.Val), "heading") {
		return models.BlockTitle
	}
	if p.Props.Style != nil && strings.EqualFold(p.Props.Style.Val, "title") {
		return models.BlockTitle
	}
	if p.Props.NumPr != nil {
		return models.BlockListItem
	}
	return models.BlockParagraph
}

type docxTable struct {
	Rows []docxRow `xml:"tr"`
}

type docxRow struct {
	Cells []docxCell `xml:"tc"`
}

type docxCell struct {
	Props docxCellProps `xml:"tcPr"`
	Paras []docxPara    `xml:"p"`
}

type docxCellProps struct {
	GridSpan *docxVal `xml:"gridSpan"`
	VMerge   *docxVal `xml:"vMerge"`
}

func (c *docxCell) text() string {
	parts := make([]string, 0, len(c.Paras))
	for i := range c.Paras {
		if t := c.Paras[i].text(); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// grid builds a dense cell grid: gridSpan repeats the cell text across the
// spanned columns, and vMerge continuation cells inherit the text above.
func (t *docxTable) grid() *models.TableData {
	var grid [][]string

	for r, row := range t.Rows {
		var cells []string
		for _, cell := range row.Cells {
			span := 1
			if cell.Props.GridSpan != nil {
				if n, err := strconv.Atoi(cell.Props.GridSpan.Val); err == nil && n > 1 {
					span = n
				}
			}

			text := cell.text()
			if cell.Props.VMerge != nil && !strings.EqualFold(cell.Props.VMerge.Val, "restart") {
				col := len(cells)
				if r > 0 && col < len(grid[r-1]) {
					text = grid[r-1][col]
				}
			}

			for i := 0; i < span; i++ {
				cells = append(cells, text)
			}
		}
		grid = append(grid, cells)
	}

	cols := 0
	for _, row := range grid {
		if len(row) > cols {
			cols = len(row)
		}
	}
	for i, row := range grid {
		for len(row) < cols {
			row = append(row, "")
		}
		grid[i] = row
	}

	return &models.TableData{Rows: len(grid), Cols: cols, Cells: grid}
}
