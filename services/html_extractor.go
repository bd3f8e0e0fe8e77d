package services

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"golang.org/x/net/html"

	"rag-document-pipeline/models"
)

// ExtractHTML parses an HTML document into typed blocks on a single page.
// Structure comes straight from the markup, so no layout analysis is needed;
// blocks carry synthetic order-only boxes.
func ExtractHTML(doc *models.Document, data []byte) ([]models.Page, error) {
	root, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	root.Find("script, style, noscript, iframe, svg").Remove()

	builder := newBlockPageBuilder(doc.ID, 0)

	body := root.Find("body")
	if body.Length() == 0 {
		body = root.Selection
	}
	walkHTML(body, builder)

	return []models.Page{builder.page()}, nil
}

// walkHTML visits element nodes in document order and emits blocks for the
// structural elements it recognizes. Inline markup inside them is flattened
// to text.
func walkHTML(sel *goquery.Selection, b *blockPageBuilder) {
	sel.Contents().Each(func(_ int, node *goquery.Selection) {
		n := node.Get(0)
		if n.Type != html.ElementNode {
			return
		}

		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			b.add(models.BlockTitle, nodeText(node))
		case "p", "blockquote", "pre":
			b.add(models.BlockParagraph, nodeText(node))
		case "li":
			b.add(models.BlockListItem, nodeText(node))
		case "table":
			b.addTable(htmlTable(node))
		case "header", "nav":
			b.add(models.BlockHeader, nodeText(node))
		case "footer":
			b.add(models.BlockFooter, nodeText(node))
		case "img", "figure":
			if node.Find("figcaption").Length() > 0 || n.Data == "img" {
				b.addFigure(nodeText(node.Find("figcaption")))
			} else {
				walkHTML(node, b)
			}
		default:
			walkHTML(node, b)
		}
	})
}

func nodeText(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.Text()), " ")
}

// htmlTable converts a <table> into a dense cell grid, spreading colspan and
// rowspan cells across every position they cover.
func htmlTable(table *goquery.Selection) *models.TableData {
	var grid [][]string
	// occupied tracks cells claimed by rowspans from earlier rows.
	occupied := make(map[[2]int]string)

	rowIdx := 0
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var row []string
		col := 0

		claim := func() {
			for {
				if text, ok := occupied[[2]int{rowIdx, col}]; ok {
					row = append(row, text)
					col++
					continue
				}
				return
			}
		}

		tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			claim()
			text := nodeText(cell)
			colspan := spanAttr(cell, "colspan")
			rowspan := spanAttr(cell, "rowspan")

			for c := 0; c < colspan; c++ {
				row = append(row, text)
				for r := 1; r < rowspan; r++ {
					occupied[[2]int{rowIdx + r, col}] = text
				}
				col++
			}
		})
		claim()

		if len(row) > 0 {
			grid = append(grid, row)
			rowIdx++
		}
	})

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

func spanAttr(sel *goquery.Selection, name string) int {
	v, ok := sel.Attr(name)
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// blockPageBuilder accumulates typed blocks for one page of a text-native
// format, assigning sequential reading order and synthetic order-only boxes.
type blockPageBuilder struct {
	docID     string
	pageIndex int
	blocks    []models.Block
}

func newBlockPageBuilder(docID string, pageIndex int) *blockPageBuilder {
	return &blockPageBuilder{docID: docID, pageIndex: pageIndex}
}

func (b *blockPageBuilder) add(blockType models.BlockType, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	order := len(b.blocks)
	b.blocks = append(b.blocks, models.Block{
		ID:         uuid.NewString(),
		DocumentID: b.docID,
		PageIndex:  b.pageIndex,
		Type:       blockType,
		Box:        syntheticBox(order),
		Order:      order,
		Text:       text,
		Confidence: 1.0,
	})
}

func (b *blockPageBuilder) addTable(table *models.TableData) {
	if table == nil || table.Rows == 0 {
		return
	}
	order := len(b.blocks)
	b.blocks = append(b.blocks, models.Block{
		ID:         uuid.NewString(),
		DocumentID: b.docID,
		PageIndex:  b.pageIndex,
		Type:       models.BlockTable,
		Box:        syntheticBox(order),
		Order:      order,
		Table:      table,
		Confidence: 1.0,
	})
}

func (b *blockPageBuilder) addFigure(caption string) {
	order := len(b.blocks)
	b.blocks = append(b.blocks, models.Block{
		ID:         uuid.NewString(),
		DocumentID: b.docID,
		PageIndex:  b.pageIndex,
		Type:       models.BlockFigure,
		Box:        syntheticBox(order),
		Order:      order,
		Text:       caption,
		Confidence: 1.0,
	})
}

func (b *blockPageBuilder) page() models.Page {
	return models.Page{
		DocumentID: b.docID,
		Index:      b.pageIndex,
		Blocks:     b.blocks,
	}
}

// syntheticBox encodes logical order as unit-height rows for formats with no
// real geometry.
func syntheticBox(order int) models.BoundingBox {
	return models.BoundingBox{X0: 0, Y0: float64(order), X1: 1, Y1: float64(order + 1)}
}
