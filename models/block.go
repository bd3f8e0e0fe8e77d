package models

// BlockType classifies a positioned content unit on a page.
type BlockType string

const (
	BlockTitle     BlockType = "title"
	BlockParagraph BlockType = "paragraph"
	BlockTable     BlockType = "table"
	BlockFigure    BlockType = "figure"
	BlockListItem  BlockType = "list-item"
	BlockHeader    BlockType = "header"
	BlockFooter    BlockType = "footer"
)

// BoundingBox is an axis-aligned box in page coordinates, y growing downward.
// Text-native formats use synthetic order-only boxes (y = logical order).
type BoundingBox struct {
	X0 float64 `bson:"x0" json:"x0"`
	Y0 float64 `bson:"y0" json:"y0"`
	X1 float64 `bson:"x1" json:"x1"`
	Y1 float64 `bson:"y1" json:"y1"`
}

// Width returns the horizontal extent of the box.
func (b BoundingBox) Width() float64 { return b.X1 - b.X0 }

// Height returns the vertical extent of the box.
func (b BoundingBox) Height() float64 { return b.Y1 - b.Y0 }

// CenterX returns the horizontal midpoint of the box.
func (b BoundingBox) CenterX() float64 { return (b.X0 + b.X1) / 2 }

// CenterY returns the vertical midpoint of the box.
func (b BoundingBox) CenterY() float64 { return (b.Y0 + b.Y1) / 2 }

// Union returns the smallest box covering both b and other.
func (b BoundingBox) Union(other BoundingBox) BoundingBox {
	out := b
	if other.X0 < out.X0 {
		out.X0 = other.X0
	}
	if other.Y0 < out.Y0 {
		out.Y0 = other.Y0
	}
	if other.X1 > out.X1 {
		out.X1 = other.X1
	}
	if other.Y1 > out.Y1 {
		out.Y1 = other.Y1
	}
	return out
}

// Fragment is a positioned piece of raw text produced by a format extractor
// (PDF text layer) or by the OCR adapter. Fragments are the input to layout
// analysis; they carry no type information yet.
type Fragment struct {
	Text       string      `json:"text"`
	Box        BoundingBox `json:"box"`
	FontSize   float64     `json:"font_size,omitempty"`
	Confidence float64     `json:"confidence"`
}

// TableData holds the parsed cell grid of a table block. Merged cells are
// represented by repeating the cell text across every covered row/column
// index, so Cells is always a dense Rows x Cols grid.
type TableData struct {
	Rows  int        `bson:"rows" json:"rows"`
	Cols  int        `bson:"cols" json:"cols"`
	Cells [][]string `bson:"cells" json:"cells"`
}

// Block is a typed, positioned unit of content on a page. Reading-order
// indices within a page form a strict total order.
type Block struct {
	ID            string      `bson:"id" json:"id"`
	DocumentID    string      `bson:"document_id" json:"document_id"`
	PageIndex     int         `bson:"page_index" json:"page_index"`
	Type          BlockType   `bson:"type" json:"type"`
	Box           BoundingBox `bson:"box" json:"box"`
	Order         int         `bson:"order" json:"order"`
	Text          string      `bson:"text" json:"text"`
	Confidence    float64     `bson:"confidence" json:"confidence"`
	LowConfidence bool        `bson:"low_confidence,omitempty" json:"low_confidence,omitempty"`
	Table         *TableData  `bson:"table,omitempty" json:"table,omitempty"`
}
