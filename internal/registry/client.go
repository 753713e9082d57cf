package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/model-lineage/pipeline/internal/lineage"
	"github.com/model-lineage/pipeline/pkg/circuitbreaker"
	"github.com/model-lineage/pipeline/pkg/logger"
	"github.com/model-lineage/pipeline/pkg/retry"
)

type Config struct {
	BaseURL    string
	Token      string
	PageSize   int
	Timeout    time.Duration
	MaxRetries int
}

type Client struct {
	baseURL    string
	token      string
	pageSize   int
	httpClient *http.Client
	cb         *circuitbreaker.Breaker
	retryCfg   retry.Config
}

type listEntry struct {
	ID string `json:"id"`
}

type modelDetail struct {
	ID           string   `json:"id"`
	Author       string   `json:"author"`
	Downloads    int64    `json:"downloads"`
	Likes        int64    `json:"likes"`
	Tags         []string `json:"tags"`
	PipelineTag  string   `json:"pipeline_tag"`
	LibraryName  string   `json:"library_name"`
	Private      bool     `json:"private"`
	SHA          string   `json:"sha"`
	CreatedAt    string   `json:"createdAt"`
	LastModified string   `json:"lastModified"`
}

func NewClient(cfg Config) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	retryCfg := retry.DefaultConfig()
	if cfg.MaxRetries > 0 {
		retryCfg.MaxAttempts = cfg.MaxRetries
	}
	retryCfg.IsRetryable = Retryable
	retryCfg.Logger = logger.Log

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		pageSize: cfg.PageSize,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cb: circuitbreaker.New("registry", circuitbreaker.Config{
			FailureThreshold: 8,
			SuccessThreshold: 2,
			OpenTimeout:      30 * time.Second,
			MaxProbes:        2,
			Logger:           logger.Log,
		}),
		retryCfg: retryCfg,
	}
}

// ListModels walks the paginated model listing and returns every id the
// registry reports at call time.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	return c.listIDs(ctx, "/api/models")
}

// ListDatasets walks the paginated dataset listing.
func (c *Client) ListDatasets(ctx context.Context) ([]string, error) {
	return c.listIDs(ctx, "/api/datasets")
}

func (c *Client) listIDs(ctx context.Context, path string) ([]string, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(c.pageSize))
	next := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	type page struct {
		entries []listEntry
		next    string
	}

	var ids []string
	for next != "" {
		pageURL := next
		result, err := retry.DoWithResult(ctx, c.retryCfg, func() (page, error) {
			var p page
			cbErr := c.cb.Execute(ctx, func() error {
				var opErr error
				p.entries, p.next, opErr = c.fetchPage(ctx, pageURL)
				return opErr
			})
			return p, cbErr
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", path, err)
		}

		for _, e := range result.entries {
			ids = append(ids, e.ID)
		}
		next = result.next
	}

	logger.Info("Registry listing complete",
		zap.String("path", path),
		zap.Int("ids", len(ids)),
	)

	return ids, nil
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) ([]listEntry, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if err := statusToError(resp); err != nil {
		return nil, "", err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}

	var entries []listEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, "", fmt.Errorf("failed to parse listing: %w", err)
	}

	return entries, nextLink(resp.Header.Get("Link")), nil
}

// GetModel fetches the full metadata record for one model id.
func (c *Client) GetModel(ctx context.Context, id string) (lineage.Record, error) {
	detail, err := c.fetchDetail(ctx, fmt.Sprintf("%s/api/models/%s", c.baseURL, id))
	if err != nil {
		return lineage.Record{}, err
	}

	return lineage.Record{
		ID:          detail.ID,
		Kind:        lineage.KindModel,
		Author:      detail.Author,
		Downloads:   detail.Downloads,
		Likes:       detail.Likes,
		Tags:        detail.Tags,
		PipelineTag: detail.PipelineTag,
		LibraryName: detail.LibraryName,
		Private:     detail.Private,
		SHA:         detail.SHA,
		URL:         fmt.Sprintf("%s/%s", c.baseURL, detail.ID),
		CreatedAt:   detail.CreatedAt,
		UpdatedAt:   detail.LastModified,
	}, nil
}

// GetDataset fetches the full metadata record for one dataset id and
// applies the provenance-risk flag.
func (c *Client) GetDataset(ctx context.Context, id string) (lineage.Record, error) {
	detail, err := c.fetchDetail(ctx, fmt.Sprintf("%s/api/datasets/%s", c.baseURL, id))
	if err != nil {
		return lineage.Record{}, err
	}

	rec := lineage.Record{
		ID:        detail.ID,
		Kind:      lineage.KindDataset,
		Author:    detail.Author,
		Downloads: detail.Downloads,
		Likes:     detail.Likes,
		Tags:      detail.Tags,
		Private:   detail.Private,
		SHA:       detail.SHA,
		URL:       fmt.Sprintf("%s/datasets/%s", c.baseURL, detail.ID),
		CreatedAt: detail.CreatedAt,
		UpdatedAt: detail.LastModified,
	}
	rec.Problematic = lineage.FlagProblematic(rec)
	return rec, nil
}

func (c *Client) fetchDetail(ctx context.Context, detailURL string) (*modelDetail, error) {
	return retry.DoWithResult(ctx, c.retryCfg, func() (*modelDetail, error) {
		var detail *modelDetail
		cbErr := c.cb.Execute(ctx, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, detailURL, nil)
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			c.setHeaders(req)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("failed to fetch detail: %w", err)
			}
			defer resp.Body.Close()

			if err := statusToError(resp); err != nil {
				return err
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("failed to read response: %w", err)
			}

			detail = &modelDetail{}
			if err := json.Unmarshal(body, detail); err != nil {
				return fmt.Errorf("failed to parse detail: %w", err)
			}
			return nil
		})
		return detail, cbErr
	})
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func statusToError(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	default:
		return &StatusError{Code: resp.StatusCode}
	}
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return time.Second
}

// nextLink extracts the rel="next" target from a Link header, empty when
// this was the last page.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		section := strings.Split(part, ";")
		if len(section) < 2 {
			continue
		}
		target := strings.Trim(strings.TrimSpace(section[0]), "<>")
		for _, param := range section[1:] {
			if strings.TrimSpace(param) == `rel="next"` {
				return target
			}
		}
	}
	return ""
}
