package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/srg/openstrap/internal/ingest"
)

// Client calls a remote Server.
type Client struct {
	http *resty.Client
}

// NewClient creates a client for baseURL, e.g. http://localhost:8080.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

// ParseHistory uploads a capture and returns the decoded records.
func (c *Client) ParseHistory(ctx context.Context, name string, capture []byte) ([]ingest.ParsedRecord, error) {
	var records []ingest.ParsedRecord
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("file", name, bytes.NewReader(capture)).
		SetResult(&records).
		Post(ParseHistoryPath)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("upload %s: %s: %s", name, resp.Status(), strings.TrimSpace(resp.String()))
	}
	if records == nil {
		records = []ingest.ParsedRecord{}
	}
	return records, nil
}
