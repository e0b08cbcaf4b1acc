/*
Package backend is the REST client for the upstream education backend.

PURPOSE:
  Performs the list and write calls the engine depends on. Every response
  goes through the factory package so the rest of the code never sees the
  backend's inconsistent wrappers.

ERRORS:
  network failure, 5xx        wraps generic.ErrTransport
  401, 403                    wraps generic.ErrAuthRequired, session cleared
  404                         wraps generic.ErrNotFound
  other 4xx, success:false    wraps generic.ErrRejected
  unknown list shape          wraps generic.ErrShape

  Callers route transport and shape errors through the Coordinator, which
  turns them into the last good snapshot or a fallback.

USAGE:
  client := backend.NewClient("https://api.example.edu", auth, logger)
  items, err := client.List(ctx, "/api/staff/advances", "advances")
  res, err := client.Write(ctx, http.MethodPost, "/api/staff/advances", "advance", payload)

SEE ALSO:
  - auth.go: Bearer token and subject check
  - factory/response.go: Shape decoding
*/
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/warp/branch-ledger/factory"
	"github.com/warp/branch-ledger/generic"
)

const maxBodyBytes = 10 << 20

// ErrResponseTooLarge means the backend sent more than MaxBody bytes.
var ErrResponseTooLarge = errors.New("response too large")

// Client calls the backend REST API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Auth    *Authorizer
	Logger  *slog.Logger
	// MaxBody caps how much of a response body is read.
	MaxBody int64
}

// NewClient creates a client for baseURL.
func NewClient(baseURL string, auth *Authorizer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 60 * time.Second},
		Auth:    auth,
		Logger:  logger,
		MaxBody: maxBodyBytes,
	}
}

// List fetches a collection and returns its items in backend order.
func (c *Client) List(ctx context.Context, path, entity string) ([]generic.Record, error) {
	status, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		_, werr := factory.ParseWriteResult(status, body, entity)
		return nil, fmt.Errorf("GET %s: %w", path, werr)
	}

	res := factory.NormalizeListResponse(body, entity)
	if err := res.Err(); err != nil {
		c.Logger.Warn("list response matched no known shape", "path", path, "entity", entity)
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	c.Logger.Debug("list fetched", "path", path, "shape", res.Shape, "items", len(res.Items))
	return res.Items, nil
}

// Write sends payload as JSON and decodes the write result.
func (c *Client) Write(ctx context.Context, method, path, entity string, payload any) (factory.WriteResult, error) {
	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return factory.WriteResult{}, fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(b)
	}

	status, body, err := c.do(ctx, method, path, reader)
	if err != nil {
		return factory.WriteResult{}, err
	}
	wr, err := factory.ParseWriteResult(status, body, entity)
	if err != nil {
		return wr, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return wr, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (int, []byte, error) {
	token, err := c.Auth.Token(ctx)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s %s: %w", generic.ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.MaxBody+1))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read %s: %w", generic.ErrTransport, path, err)
	}
	if int64(len(data)) > c.MaxBody {
		return 0, nil, fmt.Errorf("%w: %s: %w over %d bytes", generic.ErrTransport, path, ErrResponseTooLarge, c.MaxBody)
	}
	c.Auth.Reject(ctx, resp.StatusCode)
	return resp.StatusCode, data, nil
}
