// Package memapi is the client for the remote memory service: capture,
// search, ask and related-memory analysis.
package memapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/ambient/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/ambient/internal/memapi")

const (
	// DefaultTimeout bounds every request to the memory service.
	DefaultTimeout = 30 * time.Second

	// SearchLimit is the number of results requested from search.
	SearchLimit = 5

	maxErrorBody = 4 << 10
)

// Credentials supplies the service base URL and bearer token. It is read on
// every call so edits to the settings apply without a restart.
type Credentials interface {
	Endpoint() (baseURL, token string)
}

// APIError is returned for any non-2xx response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Body)
}

// Client talks to the memory service over HTTP.
type Client struct {
	creds      Credentials
	httpClient *http.Client
}

// New creates a Client. httpClient may be nil.
func New(creds Credentials, httpClient *http.Client) *Client {
	if creds == nil {
		panic(xerrors.New("memapi: credentials are required"))
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{creds: creds, httpClient: httpClient}
}

type captureRequest struct {
	Text     string         `json:"text"`
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type captureResponse struct {
	ID string `json:"id"`
}

// Capture stores ev as a memory and returns the remote ID. It implements
// triage.CaptureSink.
func (c *Client) Capture(ctx context.Context, ev *triage.CaptureEvent) (string, error) {
	ctx, span := tracer.Start(ctx, "memapi.Capture", trace.WithAttributes(
		attribute.String("ambient.source", string(ev.Source)),
		attribute.Int("ambient.chars", len(ev.Text)),
	))
	defer span.End()

	var out captureResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/tray/capture", captureRequest{
		Text:     ev.Text,
		Source:   string(ev.Source),
		Metadata: ev.Metadata,
	}, &out)
	if err != nil {
		recordErr(span, err)
		return "", err
	}
	return out.ID, nil
}

type analyzeRequest struct {
	ScreenText string `json:"screen_text"`
	AppName    string `json:"app_name"`
}

// Analyze asks which stored memories relate to text. It implements
// triage.SuggestionSink.
func (c *Client) Analyze(ctx context.Context, text, app string) (*triage.Analysis, error) {
	ctx, span := tracer.Start(ctx, "memapi.Analyze", trace.WithAttributes(
		attribute.String("ambient.app", app),
	))
	defer span.End()

	var out triage.Analysis
	if err := c.doJSON(ctx, http.MethodPost, "/api/tray/analyze", analyzeRequest{
		ScreenText: text,
		AppName:    app,
	}, &out); err != nil {
		recordErr(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("ambient.related", len(out.Related)))
	return &out, nil
}

// Search runs a memory search and returns the service's JSON response as is.
func (c *Client) Search(ctx context.Context, query string) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "memapi.Search")
	defer span.End()

	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(SearchLimit))

	body, err := c.do(ctx, http.MethodGet, "/api/tray/search?"+q.Encode(), nil)
	if err != nil {
		recordErr(span, err)
		return nil, err
	}
	if !json.Valid(body) {
		err := fmt.Errorf("parse search response: invalid JSON")
		recordErr(span, err)
		return nil, err
	}
	return body, nil
}

type askRequest struct {
	Question string `json:"question"`
}

// Ask sends a free-form question and returns the answer text.
func (c *Client) Ask(ctx context.Context, question string) (string, error) {
	ctx, span := tracer.Start(ctx, "memapi.Ask")
	defer span.End()

	body, err := c.do(ctx, http.MethodPost, "/api/tray/ask", askRequest{Question: question})
	if err != nil {
		recordErr(span, err)
		return "", err
	}
	return string(body), nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	body, err := c.do(ctx, method, path, in)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// do sends one request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, path string, in any) ([]byte, error) {
	base, token := c.creds.Endpoint()
	if token == "" {
		return nil, triage.ErrNotConnected
	}

	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(base, "/")+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{Status: resp.StatusCode, Body: string(b)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

func recordErr(span trace.Span, err error) {
	span.RecordError(err)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		span.SetAttributes(attribute.Int("http.response.status_code", apiErr.Status))
	}
	span.SetStatus(codes.Error, err.Error())
}
