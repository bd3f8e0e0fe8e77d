package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-document-pipeline/internal/config"
	"rag-document-pipeline/models"
)

func templateConfig() *config.Config {
	return &config.Config{
		MinChunkTokens:    120,
		MaxChunkTokens:    512,
		TemplateOverrides: map[string]string{},
	}
}

func TestTemplateByNameFillsConfigBounds(t *testing.T) {
	cfg := templateConfig()

	tpl, ok := TemplateByName("report", cfg)
	require.True(t, ok)
	assert.Equal(t, 120, tpl.MinChunkTokens)
	assert.Equal(t, 512, tpl.MaxChunkTokens)

	_, ok = TemplateByName("no-such-template", cfg)
	assert.False(t, ok)
}

func TestTemplateForFormatDefaults(t *testing.T) {
	cfg := templateConfig()

	assert.Equal(t, "report", TemplateForFormat(models.FormatPDF, cfg).Name)
	assert.Equal(t, "slides", TemplateForFormat(models.FormatPPTX, cfg).Name)
	assert.Equal(t, "grid", TemplateForFormat(models.FormatSpreadsheet, cfg).Name)
	assert.Equal(t, "web", TemplateForFormat(models.FormatHTML, cfg).Name)
	assert.Equal(t, "notes", TemplateForFormat(models.FormatMarkdown, cfg).Name)
	assert.Equal(t, "default", TemplateForFormat(models.FormatImage, cfg).Name)
}

func TestTemplateForFormatHonorsOverride(t *testing.T) {
	cfg := templateConfig()
	cfg.TemplateOverrides["pdf"] = "slides"

	assert.Equal(t, "slides", TemplateForFormat(models.FormatPDF, cfg).Name)

	// Unknown override falls back to the format default.
	cfg.TemplateOverrides["pdf"] = "bogus"
	assert.Equal(t, "report", TemplateForFormat(models.FormatPDF, cfg).Name)
}

func TestNotesTemplateKeepsPageFurniture(t *testing.T) {
	cfg := templateConfig()
	tpl := TemplateForFormat(models.FormatMarkdown, cfg)
	assert.False(t, tpl.DiscardHeaderFooter)
	assert.False(t, tpl.AtomicTables)
	assert.True(t, tpl.SingleColumn)
}
