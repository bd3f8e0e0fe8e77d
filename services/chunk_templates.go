package services

import (
	"rag-document-pipeline/internal/config"
	"rag-document-pipeline/models"
)

// ChunkTemplate is a named set of chunking rules: which block types force a
// chunk boundary, size limits, table atomicity and header/footer handling.
// Templates are selected per document format and may be overridden in config.
type ChunkTemplate struct {
	Name                string
	AnchorTypes         map[models.BlockType]bool
	MinChunkTokens      int
	MaxChunkTokens      int
	AtomicTables        bool
	DiscardHeaderFooter bool
	// SingleColumn forces raw top-to-bottom reading order, overriding
	// column-band detection for layouts known to be linear.
	SingleColumn bool
}

func titleAnchor() map[models.BlockType]bool {
	return map[models.BlockType]bool{models.BlockTitle: true}
}

// builtinTemplates are the chunking rule sets shipped with the pipeline.
// Token bounds are filled from config at selection time when left zero.
var builtinTemplates = map[string]ChunkTemplate{
	"default": {
		Name:                "default",
		AnchorTypes:         titleAnchor(),
		AtomicTables:        true,
		DiscardHeaderFooter: true,
	},
	"report": {
		// Long-form paginated documents: titles anchor sections, repeated
		// page furniture is noise.
		Name:                "report",
		AnchorTypes:         titleAnchor(),
		AtomicTables:        true,
		DiscardHeaderFooter: true,
	},
	"slides": {
		// One slide rarely exceeds a chunk; every title is a hard boundary.
		Name:                "slides",
		AnchorTypes:         titleAnchor(),
		AtomicTables:        true,
		DiscardHeaderFooter: true,
		SingleColumn:        true,
	},
	"web": {
		Name:                "web",
		AnchorTypes:         titleAnchor(),
		AtomicTables:        true,
		DiscardHeaderFooter: true,
		SingleColumn:        true,
	},
	"notes": {
		// Markdown/plain notes keep headers and footers: there is no page
		// furniture to discard.
		Name:         "notes",
		AnchorTypes:  titleAnchor(),
		AtomicTables: false,
		SingleColumn: true,
	},
	"grid": {
		// Spreadsheets are tables all the way down.
		Name:         "grid",
		AnchorTypes:  titleAnchor(),
		AtomicTables: true,
		SingleColumn: true,
	},
}

var defaultTemplateByFormat = map[models.DocumentFormat]string{
	models.FormatPDF:         "report",
	models.FormatDOCX:        "report",
	models.FormatPPTX:        "slides",
	models.FormatSpreadsheet: "grid",
	models.FormatHTML:        "web",
	models.FormatMarkdown:    "notes",
	models.FormatImage:       "default",
}

// TemplateByName returns a named template with token bounds from cfg applied
// where the template leaves them unset.
func TemplateByName(name string, cfg *config.Config) (ChunkTemplate, bool) {
	tpl, ok := builtinTemplates[name]
	if !ok {
		return ChunkTemplate{}, false
	}
	if tpl.MinChunkTokens == 0 {
		tpl.MinChunkTokens = cfg.MinChunkTokens
	}
	if tpl.MaxChunkTokens == 0 {
		tpl.MaxChunkTokens = cfg.MaxChunkTokens
	}
	return tpl, true
}

// TemplateForFormat resolves the chunking template for a document format,
// honoring config overrides and falling back to "default".
func TemplateForFormat(format models.DocumentFormat, cfg *config.Config) ChunkTemplate {
	if override, ok := cfg.TemplateOverrides[string(format)]; ok {
		if tpl, found := TemplateByName(override, cfg); found {
			return tpl
		}
	}
	name, ok := defaultTemplateByFormat[format]
	if !ok {
		name = "default"
	}
	tpl, _ := TemplateByName(name, cfg)
	return tpl
}
