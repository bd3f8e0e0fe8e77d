package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"rag-document-pipeline/internal/config"
	"rag-document-pipeline/models"
)

// OCRClient talks to the external OCR service over HTTP. OCR is strictly
// best-effort: any failure yields zero fragments and the page continues
// through the pipeline as low-confidence content.
type OCRClient struct {
	config     *config.Config
	httpClient *http.Client
	baseURL    string
}

// OCRResponse is the recognition payload returned by the OCR service.
type OCRResponse struct {
	Success bool        `json:"success"`
	Regions []OCRRegion `json:"regions"`
	Error   string      `json:"error,omitempty"`
}

// OCRRegion is one recognized text region with its page-coordinate box.
type OCRRegion struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Bbox       []float64 `json:"bbox"`
}

// HealthResponse is the OCR service health check payload.
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// NewOCRClient creates an OCR client. Returns nil when OCR is disabled so
// callers can treat the nil client as "no OCR available".
func NewOCRClient(cfg *config.Config) *OCRClient {
	if !cfg.OCRServiceEnabled {
		return nil
	}

	baseURL := cfg.OCRServiceURL
	if baseURL == "" {
		baseURL = "http://localhost:8001"
	}

	return &OCRClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.OCRTimeout) * time.Second,
		},
		baseURL: baseURL,
	}
}

// IsHealthy checks if the OCR service is up with its model loaded.
func (c *OCRClient) IsHealthy(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return false, fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("OCR service unhealthy: status %d", resp.StatusCode)
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		return false, fmt.Errorf("failed to decode health response: %w", err)
	}

	return healthResp.Status == "healthy" && healthResp.ModelLoaded, nil
}

// RecognizePage runs OCR on a page image and returns positioned fragments.
// Never returns an error: OCR failure must not block the page.
func (c *OCRClient) RecognizePage(ctx context.Context, page *models.Page) []models.Fragment {
	if c == nil || len(page.Image) == 0 {
		return nil
	}

	regions, err := c.recognize(ctx, page.Image, page.ImageMediaType)
	if err != nil {
		slog.Warn("OCR recognition failed, continuing without text",
			"document_id", page.DocumentID,
			"page_index", page.Index,
			"error", err)
		return nil
	}

	fragments := make([]models.Fragment, 0, len(regions))
	for _, region := range regions {
		frag := models.Fragment{
			Text:       region.Text,
			Confidence: region.Confidence,
		}
		if len(region.Bbox) == 4 {
			frag.Box = models.BoundingBox{
				X0: region.Bbox[0],
				Y0: region.Bbox[1],
				X1: region.Bbox[2],
				Y1: region.Bbox[3],
			}
		}
		fragments = append(fragments, frag)
	}
	return fragments
}

func (c *OCRClient) recognize(ctx context.Context, image []byte, mediaType string) ([]OCRRegion, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	filename := "page.png"
	if mediaType == "image/jpeg" {
		filename = "page.jpg"
	}

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/recognize", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create OCR request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("OCR request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OCR service returned status %d", resp.StatusCode)
	}

	var ocrResp OCRResponse
	if err := json.NewDecoder(resp.Body).Decode(&ocrResp); err != nil {
		return nil, fmt.Errorf("failed to decode OCR response: %w", err)
	}
	if !ocrResp.Success {
		return nil, fmt.Errorf("OCR processing failed: %s", ocrResp.Error)
	}

	return ocrResp.Regions, nil
}
