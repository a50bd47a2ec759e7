// Package httpsource reads workflow views from the pipeline backend over HTTP.
package httpsource

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/flowwatch/flowwatch/pkg/models"
	"github.com/flowwatch/flowwatch/pkg/source"
)

const maxErrorBody = 512

var errNullPayload = errors.New("null payload")

// Config configures the backend client.
type Config struct {
	// BaseURL is the backend root, e.g. http://pipeline:8000.
	BaseURL string

	// Timeout bounds each request. Zero means no client-side timeout.
	Timeout time.Duration

	// Token is sent as a bearer token when non-empty.
	Token string

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Client implements source.Source against the backend REST API.
type Client struct {
	base   *url.URL
	token  string
	client *http.Client
}

// New creates a backend client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("httpsource: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("httpsource: invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("httpsource: unsupported scheme %q", base.Scheme)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{base: base, token: cfg.Token, client: hc}, nil
}

// GetStatistics implements source.Source.
func (c *Client) GetStatistics(ctx context.Context, userID string) (models.Statistics, error) {
	var stats models.Statistics
	if err := c.get(ctx, source.Statistics, userID, "statistics", 0, &stats); err != nil {
		return models.Statistics{}, err
	}
	return stats, nil
}

// GetActiveWorkflows implements source.Source.
func (c *Client) GetActiveWorkflows(ctx context.Context, userID string, limit int) ([]models.Workflow, error) {
	workflows := []models.Workflow{}
	if err := c.get(ctx, source.Active, userID, "active", limit, &workflows); err != nil {
		return nil, err
	}
	if err := source.ValidateWorkflows(source.Active, workflows); err != nil {
		return nil, err
	}
	return workflows, nil
}

// GetWorkflowHistory implements source.Source.
func (c *Client) GetWorkflowHistory(ctx context.Context, userID string, limit int) ([]models.ProcessingLogEntry, error) {
	entries := []models.ProcessingLogEntry{}
	if err := c.get(ctx, source.History, userID, "history", limit, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetAgentCommunications implements source.Source.
func (c *Client) GetAgentCommunications(ctx context.Context, userID string, limit int) ([]models.Communication, error) {
	events := []models.Communication{}
	if err := c.get(ctx, source.Communications, userID, "communications", limit, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) endpoint(userID, view string, limit int) string {
	u := *c.base
	u.Path = fmt.Sprintf("%s/api/v1/users/%s/workflows/%s", c.base.Path, userID, view)
	u.RawPath = fmt.Sprintf("%s/api/v1/users/%s/workflows/%s", c.base.EscapedPath(), url.PathEscape(userID), view)
	if limit > 0 {
		u.RawQuery = url.Values{"limit": []string{strconv.Itoa(limit)}}.Encode()
	}
	return u.String()
}

func (c *Client) get(ctx context.Context, src source.Name, userID, view string, limit int, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(userID, view, limit), nil)
	if err != nil {
		return &source.FetchError{Source: src, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req)
	if err != nil {
		return &source.FetchError{Source: src, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &source.FetchError{Source: src, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return &source.DecodeError{Source: src, Err: err}
	}
	if bytes.Equal(raw, []byte("null")) {
		return &source.DecodeError{Source: src, Err: errNullPayload}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &source.DecodeError{Source: src, Err: err}
	}
	return nil
}

var _ source.Source = (*Client)(nil)
