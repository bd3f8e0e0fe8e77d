package models

import "time"

// DocumentFormat identifies the source format of an ingested document.
type DocumentFormat string

const (
	FormatPDF         DocumentFormat = "pdf"
	FormatDOCX        DocumentFormat = "docx"
	FormatPPTX        DocumentFormat = "pptx"
	FormatSpreadsheet DocumentFormat = "spreadsheet"
	FormatHTML        DocumentFormat = "html"
	FormatMarkdown    DocumentFormat = "markdown"
	FormatImage       DocumentFormat = "image"
)

// Document processing status constants
const (
	StatusPending = "pending"
	StatusParsing = "parsing"
	StatusChunked = "chunked"
	StatusFailed  = "failed"
)

// Document represents one ingested document and its processing state.
// Pages are carried in memory during the pipeline run and are not persisted
// on the document record itself.
type Document struct {
	ID           string         `bson:"_id" json:"id"`
	Format       DocumentFormat `bson:"format" json:"format"`
	ByteLength   int64          `bson:"byte_length" json:"byte_length"`
	PageCount    int            `bson:"page_count" json:"page_count"`
	Status       string         `bson:"status" json:"status"`
	ContentHash  string         `bson:"content_hash" json:"content_hash"`
	Generation   string         `bson:"generation,omitempty" json:"generation,omitempty"`
	Template     string         `bson:"template,omitempty" json:"template,omitempty"`
	FailedPages  []PageFailure  `bson:"failed_pages,omitempty" json:"failed_pages,omitempty"`
	ErrorMessage string         `bson:"error_message,omitempty" json:"error_message,omitempty"`
	UploadedAt   time.Time      `bson:"uploaded_at" json:"uploaded_at"`
	ProcessedAt  *time.Time     `bson:"processed_at,omitempty" json:"processed_at,omitempty"`

	Pages []Page `bson:"-" json:"-"`
}

// PageFailure records a page that was skipped during extraction or layout
// analysis. Failures are isolated; sibling pages continue processing.
type PageFailure struct {
	PageIndex int    `bson:"page_index" json:"page_index"`
	Stage     string `bson:"stage" json:"stage"` // "extract" or "layout"
	Reason    string `bson:"reason" json:"reason"`
}

// Page is one physical or logical page of a Document.
//
// For PDF and image-bearing formats the extractor fills Fragments (positioned
// native text) and optionally Image; block structuring is deferred to the
// layout analyzer. Text-native formats fill Blocks directly and leave
// Fragments empty.
type Page struct {
	DocumentID     string     `bson:"document_id" json:"document_id"`
	Index          int        `bson:"index" json:"index"`
	Width          float64    `bson:"width,omitempty" json:"width,omitempty"`
	Height         float64    `bson:"height,omitempty" json:"height,omitempty"`
	Rotation       int        `bson:"rotation,omitempty" json:"rotation,omitempty"`
	Image          []byte     `bson:"-" json:"-"`
	ImageMediaType string     `bson:"image_media_type,omitempty" json:"image_media_type,omitempty"`
	Fragments      []Fragment `bson:"-" json:"-"`
	Blocks         []Block    `bson:"-" json:"-"`
}

// HasNativeText reports whether the page carries an embedded text layer.
func (p *Page) HasNativeText() bool {
	for _, f := range p.Fragments {
		if len(f.Text) > 0 {
			return true
		}
	}
	return false
}
