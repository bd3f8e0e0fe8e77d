package services

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-document-pipeline/models"
)

func zipWith(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		filename string
		want     models.DocumentFormat
	}{
		{"pdf", []byte("%PDF-1.7\n..."), "report.pdf", models.FormatPDF},
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A}, "scan.png", models.FormatImage},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "photo.jpg", models.FormatImage},
		{"html", []byte("<!DOCTYPE html><html><body>hi</body></html>"), "page.html", models.FormatHTML},
		{"markdown by extension", []byte("# Title\n\nbody"), "notes.md", models.FormatMarkdown},
		{"plain text falls back to markdown", []byte("just some plain prose"), "notes.txt", models.FormatMarkdown},
		{"csv by extension", []byte("a,b\n1,2\n"), "data.csv", models.FormatSpreadsheet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFormat(tt.data, tt.filename)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectFormatZipContainers(t *testing.T) {
	docx := zipWith(t, map[string]string{"word/document.xml": "<document/>"})
	pptx := zipWith(t, map[string]string{"ppt/presentation.xml": "<presentation/>"})
	xlsx := zipWith(t, map[string]string{"xl/workbook.xml": "<workbook/>"})

	format, err := DetectFormat(docx, "f.docx")
	require.NoError(t, err)
	assert.Equal(t, models.FormatDOCX, format)

	format, err = DetectFormat(pptx, "f.pptx")
	require.NoError(t, err)
	assert.Equal(t, models.FormatPPTX, format)

	format, err = DetectFormat(xlsx, "f.xlsx")
	require.NoError(t, err)
	assert.Equal(t, models.FormatSpreadsheet, format)
}

func TestDetectFormatUnsupported(t *testing.T) {
	_, err := DetectFormat([]byte{0x00, 0x01, 0x02, 0x03}, "blob.bin")
	assert.ErrorIs(t, err, models.ErrUnsupportedFormat)

	_, err = DetectFormat(nil, "empty")
	assert.ErrorIs(t, err, models.ErrUnsupportedFormat)
}

func TestExtractMarkdown(t *testing.T) {
	input := []byte(`# Heading

First paragraph spanning
two lines.

- item one
- item two

| Name | Age |
|------|-----|
| Ada  | 36  |
`)

	doc := &models.Document{ID: "doc1"}
	pages, err := ExtractMarkdown(doc, input)
	require.NoError(t, err)
	require.Len(t, pages, 1)

	blocks := pages[0].Blocks
	require.Len(t, blocks, 5)

	assert.Equal(t, models.BlockTitle, blocks[0].Type)
	assert.Equal(t, "Heading", blocks[0].Text)
	assert.Equal(t, models.BlockParagraph, blocks[1].Type)
	assert.Equal(t, "First paragraph spanning two lines.", blocks[1].Text)
	assert.Equal(t, models.BlockListItem, blocks[2].Type)
	assert.Equal(t, "item one", blocks[2].Text)
	assert.Equal(t, models.BlockListItem, blocks[3].Type)

	table := blocks[4]
	assert.Equal(t, models.BlockTable, table.Type)
	require.NotNil(t, table.Table)
	assert.Equal(t, [][]string{{"Name", "Age"}, {"Ada", "36"}}, table.Table.Cells)

	for i, b := range blocks {
		assert.Equal(t, i, b.Order)
	}
}

func TestExtractHTML(t *testing.T) {
	input := []byte(`<html><body>
<header>Site header</header>
<h1>Welcome</h1>
<p>Intro paragraph.</p>
<ul><li>first</li><li>second</li></ul>
<table>
<tr><th colspan="2">Span</th></tr>
<tr><td>a</td><td>b</td></tr>
</table>
<footer>Copyright</footer>
</body></html>`)

	doc := &models.Document{ID: "doc1"}
	pages, err := ExtractHTML(doc, input)
	require.NoError(t, err)
	require.Len(t, pages, 1)

	blocks := pages[0].Blocks
	require.Len(t, blocks, 7)

	assert.Equal(t, models.BlockHeader, blocks[0].Type)
	assert.Equal(t, models.BlockTitle, blocks[1].Type)
	assert.Equal(t, "Welcome", blocks[1].Text)
	assert.Equal(t, models.BlockParagraph, blocks[2].Type)
	assert.Equal(t, models.BlockListItem, blocks[3].Type)
	assert.Equal(t, models.BlockListItem, blocks[4].Type)
	assert.Equal(t, models.BlockFooter, blocks[6].Type)

	table := blocks[5]
	require.NotNil(t, table.Table)
	// colspan repeats the cell across covered columns.
	assert.Equal(t, [][]string{{"Span", "Span"}, {"a", "b"}}, table.Table.Cells)
}

func TestExtractCSV(t *testing.T) {
	doc := &models.Document{ID: "doc1"}
	pages, err := ExtractSpreadsheet(doc, []byte("name,age\nada,36\n"))
	require.NoError(t, err)
	require.Len(t, pages, 1)

	blocks := pages[0].Blocks
	require.Len(t, blocks, 1)
	require.NotNil(t, blocks[0].Table)
	assert.Equal(t, [][]string{{"name", "age"}, {"ada", "36"}}, blocks[0].Table.Cells)
}

func TestExtractDOCX(t *testing.T) {
	docXML := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p>
      <w:pPr><w:pStyle w:val="Heading1"/></w:pPr>
      <w:r><w:t>Section One</w:t></w:r>
    </w:p>
    <w:p><w:r><w:t>Body text </w:t></w:r><w:r><w:t>continues.</w:t></w:r></w:p>
    <w:p>
      <w:pPr><w:numPr><w:ilvl w:val="0"/></w:numPr></w:pPr>
      <w:r><w:t>bullet</w:t></w:r>
    </w:p>
    <w:tbl>
      <w:tr>
        <w:tc><w:tcPr><w:gridSpan w:val="2"/></w:tcPr><w:p><w:r><w:t>wide</w:t></w:r></w:p></w:tc>
      </w:tr>
      <w:tr>
        <w:tc><w:p><w:r><w:t>a</w:t></w:r></w:p></w:tc>
        <w:tc><w:p><w:r><w:t>b</w:t></w:r></w:p></w:tc>
      </w:tr>
    </w:tbl>
  </w:body>
</w:document>`

	data := zipWith(t, map[string]string{"word/document.xml": docXML})
	doc := &models.Document{ID: "doc1"}

	pages, err := ExtractDOCX(doc, data)
	require.NoError(t, err)
	require.Len(t, pages, 1)

	blocks := pages[0].Blocks
	require.Len(t, blocks, 4)
	assert.Equal(t, models.BlockTitle, blocks[0].Type)
	assert.Equal(t, "Section One", blocks[0].Text)
	assert.Equal(t, models.BlockParagraph, blocks[1].Type)
	assert.Equal(t, "Body text continues.", blocks[1].Text)
	assert.Equal(t, models.BlockListItem, blocks[2].Type)

	require.NotNil(t, blocks[3].Table)
	assert.Equal(t, [][]string{{"wide", "wide"}, {"a", "b"}}, blocks[3].Table.Cells)
}

func TestExtractPPTX(t *testing.T) {
	slideXML := `<?xml version="1.0"?>
<p:sld xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"
       xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">
  <p:cSld>
    <p:spTree>
      <p:sp>
        <p:nvSpPr><p:nvPr><p:ph type="title"/></p:nvPr></p:nvSpPr>
        <p:txBody><a:p><a:r><a:t>Slide Title</a:t></a:r></a:p></p:txBody>
      </p:sp>
      <p:sp>
        <p:nvSpPr><p:nvPr><p:ph type="body"/></p:nvPr></p:nvSpPr>
        <p:txBody>
          <a:p><a:pPr><a:buChar char="-"/></a:pPr><a:r><a:t>point one</a:t></a:r></a:p>
          <a:p><a:r><a:t>plain line</a:t></a:r></a:p>
        </p:txBody>
      </p:sp>
    </p:spTree>
  </p:cSld>
</p:sld>`

	data := zipWith(t, map[string]string{
		"ppt/presentation.xml":  "<presentation/>",
		"ppt/slides/slide1.xml": slideXML,
	})
	doc := &models.Document{ID: "doc1"}

	pages, err := ExtractPPTX(doc, data)
	require.NoError(t, err)
	require.Len(t, pages, 1)

	blocks := pages[0].Blocks
	require.Len(t, blocks, 3)
	assert.Equal(t, models.BlockTitle, blocks[0].Type)
	assert.Equal(t, "Slide Title", blocks[0].Text)
	assert.Equal(t, models.BlockListItem, blocks[1].Type)
	assert.Equal(t, "point one", blocks[1].Text)
	assert.Equal(t, models.BlockParagraph, blocks[2].Type)
}

func TestExtractPPTXIsolatesCorruptSlide(t *testing.T) {
	goodSlide := `<?xml version="1.0"?>
<p:sld xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"
       xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">
  <p:cSld><p:spTree>
    <p:sp><p:txBody><a:p><a:r><a:t>content</a:t></a:r></a:p></p:txBody></p:sp>
  </p:spTree></p:cSld>
</p:sld>`

	data := zipWith(t, map[string]string{
		"ppt/presentation.xml":  "<presentation/>",
		"ppt/slides/slide1.xml": goodSlide,
		"ppt/slides/slide2.xml": "<p:sld><broken",
		"ppt/slides/slide3.xml": goodSlide,
	})
	doc := &models.Document{ID: "doc1"}

	pages, err := ExtractPPTX(doc, data)
	require.NoError(t, err)

	// The corrupt middle slide is recorded and skipped; its neighbors keep
	// their ordinal indices.
	require.Len(t, pages, 2)
	assert.Equal(t, 0, pages[0].Index)
	assert.Equal(t, 2, pages[1].Index)
	require.Len(t, doc.FailedPages, 1)
	assert.Equal(t, 1, doc.FailedPages[0].PageIndex)
	assert.Equal(t, "extract", doc.FailedPages[0].Stage)
}

// pdfWith assembles a minimal PDF from numbered object bodies, computing the
// cross-reference table offsets as it writes.
func pdfWith(objects ...string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects)+1)
	for i, body := range objects {
		offsets[i+1] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	xrefPos := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= len(objects); i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, xrefPos)
	return buf.Bytes()
}

func TestExtractPDFIsolatesCorruptPage(t *testing.T) {
	// Three pages; the middle page's content stream reference points at an
	// object that does not exist.
	data := pdfWith(
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R 4 0 R 5 0 R] /Count 3 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 6 0 R >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 9 0 R >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 6 0 R >>",
		"<< /Length 0 >>\nstream\n\nendstream",
	)
	doc := &models.Document{ID: "doc1"}

	pages, err := ExtractPDF(doc, data)
	require.NoError(t, err)

	// The corrupt middle page is recorded and skipped; its neighbors keep
	// their ordinal indices.
	require.Len(t, pages, 2)
	assert.Equal(t, 0, pages[0].Index)
	assert.Equal(t, 2, pages[1].Index)
	require.Len(t, doc.FailedPages, 1)
	assert.Equal(t, 1, doc.FailedPages[0].PageIndex)
	assert.Equal(t, "extract", doc.FailedPages[0].Stage)
}

func TestExtractorDispatchUnsupported(t *testing.T) {
	e := NewExtractor()
	doc := &models.Document{ID: "doc1", Format: models.DocumentFormat("weird")}

	_, err := e.Extract(context.Background(), doc, []byte("data"))
	assert.ErrorIs(t, err, models.ErrUnsupportedFormat)
}

func TestExtractImagePage(t *testing.T) {
	doc := &models.Document{ID: "doc1"}
	pages, err := ExtractImage(doc, []byte{0xFF, 0xD8, 0xFF, 0xE0})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "image/jpeg", pages[0].ImageMediaType)
	assert.False(t, pages[0].HasNativeText())
}
