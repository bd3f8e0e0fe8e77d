package services

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"rag-document-pipeline/models"
)

var slidePathPattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// ExtractPPTX parses each slide into one page of typed blocks. Title
// placeholders become title blocks, bulleted text becomes list items, and
// DrawingML tables keep their grid with merge markers resolved. A slide
// that fails to parse is recorded and skipped.
func ExtractPPTX(doc *models.Document, data []byte) ([]models.Page, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open container: %w", err)
	}

	type slideFile struct {
		num  int
		file *zip.File
	}
	var slides []slideFile
	for _, f := range reader.File {
		m := slidePathPattern.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		slides = append(slides, slideFile{num: num, file: f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	pages := make([]models.Page, 0, len(slides))
	for idx, slide := range slides {
		page, err := extractSlide(doc.ID, idx, slide.file)
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

func extractSlide(docID string, index int, f *zip.File) (models.Page, error) {
	rc, err := f.Open()
	if err != nil {
		return models.Page{}, fmt.Errorf("failed to open slide: %w", err)
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return models.Page{}, fmt.Errorf("failed to read slide: %w", err)
	}

	var slide pptxSlide
	if err := xml.Unmarshal(content, &slide); err != nil {
		return models.Page{}, fmt.Errorf("failed to parse slide: %w", err)
	}

	builder := newBlockPageBuilder(docID, index)
	for _, item := range slide.CSld.SpTree.Items {
		switch v := item.(type) {
		case *pptxShape:
			emitShape(builder, v)
		case *pptxGraphicFrame:
			if v.Table != nil {
				builder.addTable(v.Table.grid())
			}
		}
	}

	return builder.page(), nil
}

func emitShape(b *blockPageBuilder, shape *pptxShape) {
	if shape.TxBody == nil {
		return
	}
	isTitle := shape.placeholderType() == "title" || shape.placeholderType() == "ctrTitle"

	for i := range shape.TxBody.Paras {
		para := &shape.TxBody.Paras[i]
		text := para.text()
		if text == "" {
			continue
		}
		switch {
		case isTitle:
			b.add(models.BlockTitle, text)
		case para.bulleted():
			b.add(models.BlockListItem, text)
		default:
			b.add(models.BlockParagraph, text)
		}
	}
}

type pptxSlide struct {
	CSld struct {
		SpTree pptxSpTree `xml:"spTree"`
	} `xml:"cSld"`
}

// pptxSpTree keeps shapes and graphic frames in slide order.
type pptxSpTree struct {
	Items []interface{}
}

func (t *pptxSpTree) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "sp":
				var sp pptxShape
				if err := d.DecodeElement(&sp, &el); err != nil {
					return err
				}
				t.Items = append(t.Items, &sp)
			case "graphicFrame":
				var gf pptxGraphicFrame
				if err := d.DecodeElement(&gf, &el); err != nil {
					return err
				}
				t.Items = append(t.Items, &gf)
			}
		case xml.EndElement:
			if el.Name == start.Name {
				return nil
			}
		}
	}
}

type pptxShape struct {
	NvSpPr struct {
		NvPr struct {
			Ph *struct {
				Type string `xml:"type,attr"`
			} `xml:"ph"`
		} `xml:"nvPr"`
	} `xml:"nvSpPr"`
	TxBody *pptxTxBody `xml:"txBody"`
}

func (s *pptxShape) placeholderType() string {
	if s.NvSpPr.NvPr.Ph == nil {
		return ""
	}
	return s.NvSpPr.NvPr.Ph.Type
}

type pptxTxBody struct {
	Paras []pptxPara `xml:"p"`
}

type pptxPara struct {
	Props *pptxParaProps `xml:"pPr"`
	Runs  []pptxRun      `xml:"r"`
}

type pptxParaProps struct {
	BuChar    *struct{} `xml:"buChar"`
	BuAutoNum *struct{} `xml:"buAutoNum"`
	BuNone    *struct{} `xml:"buNone"`
}

type pptxRun struct {
	Text string `xml:"t"`
}

func (p *pptxPara) text() string {
	var sb strings.Builder
	for _, r := range p.Runs {
		sb.WriteString(r.Text)
	}
	return strings.TrimSpace(sb.String())
}

func (p *pptxPara) bulleted() bool {
	if p.Props == nil {
		return false
	}
	if p.Props.BuNone != nil {
		return false
	}
	return p.Props.BuChar != nil || p.Props.BuAutoNum != nil
}

type pptxGraphicFrame struct {
	Table *pptxTable `xml:"graphic>graphicData>tbl"`
}

type pptxTable struct {
	Rows []pptxTableRow `xml:"tr"`
}

type pptxTableRow struct {
	Cells []pptxTableCell `xml:"tc"`
}

type pptxTableCell struct {
	GridSpan int         `xml:"gridSpan,attr"`
	HMerge   int         `xml:"hMerge,attr"`
	VMerge   int         `xml:"vMerge,attr"`
	TxBody   *pptxTxBody `xml:"txBody"`
}

func (c *pptxTableCell) text() string {
	if c.TxBody == nil {
		return ""
	}
	parts := make([]string, 0, len(c.TxBody.Paras))
	for i := range c.TxBody.Paras {
		if t := c.TxBody.Paras[i].text(); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// grid resolves DrawingML merge markers into a dense grid: the table keeps
// placeholder cells for merged positions, so hMerge/vMerge cells copy their
// source text and gridSpan repeats it across the span.
func (t *pptxTable) grid() *models.TableData {
	var grid [][]string

	for r, row := range t.Rows {
		var cells []string
		for _, cell := range row.Cells {
			text := cell.text()
			col := len(cells)

			if cell.HMerge == 1 && col > 0 {
				text = cells[col-1]
			}
			if cell.VMerge == 1 && r > 0 && col < len(grid[r-1]) {
				text = grid[r-1][col]
			}

			span := cell.GridSpan
			if span < 1 {
				span = 1
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
