package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/photoshare/backend/internal/assets"
	"github.com/photoshare/backend/internal/config"
	"github.com/photoshare/backend/internal/logging"
)

// Client talks to the metadata service over HTTP. Requests are paced by a
// token bucket so background polling cannot flood the service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient constructs a metadata Client.
func NewClient(cfg config.MetadataConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// List returns every image the service knows for userID, newest first.
func (c *Client) List(ctx context.Context, userID string) ([]assets.Record, error) {
	var parsed ListResponse
	status, err := c.do(ctx, http.MethodGet, c.imagesURL(userID), &parsed)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: list images returned status %d", assets.ErrServiceUnreachable, status)
	}

	records := make([]assets.Record, 0, len(parsed.Images))
	for _, view := range parsed.Images {
		if view.ID == "" {
			continue
		}
		records = append(records, view.ToRecord())
	}
	assets.SortNewestFirst(records)
	return records, nil
}

// Get fetches a single image. found is false when the service has no record
// for id yet.
func (c *Client) Get(ctx context.Context, userID, id string) (assets.Record, bool, error) {
	var view ImageView
	status, err := c.do(ctx, http.MethodGet, c.imageURL(userID, id), &view)
	if err != nil {
		return assets.Record{}, false, err
	}
	switch status {
	case http.StatusOK:
		if view.ID == "" {
			view.ID = id
		}
		return view.ToRecord(), true, nil
	case http.StatusNotFound:
		return assets.Record{}, false, nil
	default:
		return assets.Record{}, false, fmt.Errorf("%w: get image returned status %d", assets.ErrServiceUnreachable, status)
	}
}

// Delete removes the metadata entry for id. An entry that is already gone is
// not an error.
func (c *Client) Delete(ctx context.Context, userID, id string) error {
	status, err := c.do(ctx, http.MethodDelete, c.imageURL(userID, id), nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("%w: delete image returned status %d", assets.ErrServiceUnreachable, status)
	}
}

func (c *Client) imagesURL(userID string) string {
	return c.baseURL + "/user/" + url.PathEscape(userID) + "/images"
}

func (c *Client) imageURL(userID, id string) string {
	return c.imagesURL(userID) + "/" + url.PathEscape(id)
}

// do performs the request and decodes a 200 body into out. Any other status is
// returned to the caller with the body drained.
func (c *Client) do(ctx context.Context, method, target string, out any) (int, error) {
	if c.baseURL == "" {
		return 0, fmt.Errorf("%w: base url is empty", assets.ErrServiceUnreachable)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", assets.ErrServiceUnreachable, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Accept", "application/json")
	if requestID := logging.RequestIDFromContext(ctx); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %s: %v", assets.ErrServiceUnreachable, method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK || out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return 0, fmt.Errorf("%w: decode %s response: %v", assets.ErrServiceUnreachable, target, err)
	}
	return resp.StatusCode, nil
}
