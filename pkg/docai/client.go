// Package docai is the client for the remote vision-model document
// conversion service. It submits one page range of a PDF per call and
// returns a layout-labeled structured document together with the service's
// own status signal.
package docai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zecchin-leonardo/archeo-extract/internal/resilience"
)

const (
	defaultEndpoint = "https://api.mistral.ai/v1/ocr"
	defaultModel    = "pixtral-large-latest"

	// DefaultMaxPagesPerCall bounds request size; the service rejects larger
	// ranges.
	DefaultMaxPagesPerCall = 150

	// Conversion calls are minutes-scale for long scans.
	defaultTimeout = 5 * time.Minute
)

// Status is the conversion outcome reported by the service itself.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialSuccess Status = "partial_success"
	StatusOtherFailure   Status = "other_failure"
)

// Usable reports whether the converted content may be consumed. Partial
// success still carries usable content.
func (s Status) Usable() bool {
	return s == StatusSuccess || s == StatusPartialSuccess
}

// LayoutItem is one labeled block of extracted text.
type LayoutItem struct {
	// Page is the 1-based absolute page number within the source document.
	Page int `json:"page"`
	// Label is the layout classification (text, table, stamp, ...).
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Document is the structured output for one converted page range.
type Document struct {
	Items []LayoutItem `json:"items"`
}

// ConvertRequest asks for conversion of an inclusive 1-based page interval.
type ConvertRequest struct {
	Path      string
	FirstPage int
	LastPage  int
}

// ConvertResult pairs the structured document with the service status.
// Document is nil whenever Status is not usable.
type ConvertResult struct {
	Status   Status
	Document *Document
}

// Client is the conversion operations consumed by the ingestion core.
type Client interface {
	Convert(ctx context.Context, req ConvertRequest) (*ConvertResult, error)
	MaxPagesPerCall() int
}

// HTTPClient implements Client against the hosted OCR endpoint.
type HTTPClient struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	maxPages int
	retry    resilience.RetryConfig
}

// Options configures the HTTP client.
type Options struct {
	Model    string
	Endpoint string
	// MaxPagesPerCall overrides DefaultMaxPagesPerCall.
	MaxPagesPerCall int
	// RequestsPerMinute throttles outgoing calls; 0 disables throttling.
	RequestsPerMinute int
	Timeout           time.Duration
	Retry             *resilience.RetryConfig
}

// NewHTTPClient creates a client for the remote conversion service.
func NewHTTPClient(apiKey string, opts Options) (*HTTPClient, error) {
	if apiKey == "" {
		return nil, eris.New("docai: api key required")
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.Endpoint == "" {
		opts.Endpoint = defaultEndpoint
	}
	if opts.MaxPagesPerCall <= 0 {
		opts.MaxPagesPerCall = DefaultMaxPagesPerCall
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), 1)
	}

	retryCfg := resilience.DefaultRetryConfig()
	if opts.Retry != nil {
		retryCfg = *opts.Retry
	}
	retryCfg.OnRetry = resilience.RetryLogger("docai", "convert")

	return &HTTPClient{
		apiKey:   apiKey,
		model:    opts.Model,
		endpoint: opts.Endpoint,
		client:   &http.Client{Timeout: opts.Timeout},
		limiter:  limiter,
		maxPages: opts.MaxPagesPerCall,
		retry:    retryCfg,
	}, nil
}

// MaxPagesPerCall returns the service's page bound per request.
func (c *HTTPClient) MaxPagesPerCall() int {
	return c.maxPages
}

type convertRequestBody struct {
	Model    string          `json:"model"`
	Document convertDocument `json:"document"`
	// Pages lists the requested 0-based page indexes.
	Pages         []int `json:"pages"`
	IncludeLayout bool  `json:"include_layout"`
}

type convertDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

type convertResponseBody struct {
	Status string `json:"status"`
	// Pages carry indexes relative to the submitted page list, 0-based.
	Pages []convertResponsePage `json:"pages"`
}

type convertResponsePage struct {
	Index  int                  `json:"index"`
	Blocks []convertLayoutBlock `json:"blocks"`
}

type convertLayoutBlock struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Convert submits one page range. Transport-level failures return an error
// (transient ones are retried); an answered request always yields a
// ConvertResult carrying the service's status signal.
func (c *HTTPClient) Convert(ctx context.Context, req ConvertRequest) (*ConvertResult, error) {
	if req.FirstPage < 1 || req.LastPage < req.FirstPage {
		return nil, eris.Errorf("docai: invalid page range %d-%d", req.FirstPage, req.LastPage)
	}
	if n := req.LastPage - req.FirstPage + 1; n > c.maxPages {
		return nil, eris.Errorf("docai: range %d-%d exceeds %d pages per call",
			req.FirstPage, req.LastPage, c.maxPages)
	}

	data, err := os.ReadFile(req.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "docai: read PDF %s", req.Path)
	}

	pageIdx := make([]int, 0, req.LastPage-req.FirstPage+1)
	for p := req.FirstPage; p <= req.LastPage; p++ {
		pageIdx = append(pageIdx, p-1)
	}

	body := convertRequestBody{
		Model: c.model,
		Document: convertDocument{
			Type:        "document_url",
			DocumentURL: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(data),
		},
		Pages:         pageIdx,
		IncludeLayout: true,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "docai: marshal request")
	}

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*ConvertResult, error) {
		return c.doConvert(ctx, req, payload)
	})
}

func (c *HTTPClient) doConvert(ctx context.Context, req ConvertRequest, payload []byte) (*ConvertResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "docai: rate limit wait")
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "docai: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, eris.Wrapf(err, "docai: convert %s pages %d-%d", req.Path, req.FirstPage, req.LastPage)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "docai: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("docai: service returned %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var parsed convertResponseBody
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, eris.Wrap(err, "docai: unmarshal response")
	}

	result := &ConvertResult{Status: Status(parsed.Status)}
	switch result.Status {
	case StatusSuccess, StatusPartialSuccess:
	default:
		result.Status = StatusOtherFailure
	}

	if result.Status.Usable() {
		doc := &Document{}
		for _, page := range parsed.Pages {
			// Remap the range-relative index back to the true page number,
			// so independently converted ranges stitch together correctly.
			absPage := req.FirstPage + page.Index
			if absPage > req.LastPage {
				return nil, eris.Errorf("docai: response page index %d outside range %d-%d",
					page.Index, req.FirstPage, req.LastPage)
			}
			for _, block := range page.Blocks {
				if block.Text == "" {
					continue
				}
				doc.Items = append(doc.Items, LayoutItem{
					Page:  absPage,
					Label: block.Label,
					Text:  block.Text,
				})
			}
		}
		result.Document = doc
	}

	zap.L().Debug("docai: conversion call finished",
		zap.String("path", req.Path),
		zap.Int("first_page", req.FirstPage),
		zap.Int("last_page", req.LastPage),
		zap.String("status", string(result.Status)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return result, nil
}
