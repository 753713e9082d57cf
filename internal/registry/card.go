package registry

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/model-lineage/pipeline/pkg/logger"
)

// BaseModelFromCard scrapes a model's hub page for a base-model link.
// Used only when the API metadata carries no base_model tag. Any failure
// degrades to an empty result; the card is best-effort enrichment.
func (c *Client) BaseModelFromCard(ctx context.Context, id string) string {
	pageURL := fmt.Sprintf("%s/%s", c.baseURL, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return ""
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Debug("Card page fetch failed", zap.String("model_id", id), zap.Error(err))
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		logger.Debug("Card page parse failed", zap.String("model_id", id), zap.Error(err))
		return ""
	}

	return extractBaseModel(doc, id)
}

func extractBaseModel(doc *goquery.Document, id string) string {
	var base string
	doc.Find("a[data-base-model], a.base-model-link").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, ok := s.Attr("data-base-model"); ok && v != "" {
			base = v
			return false
		}
		if href, ok := s.Attr("href"); ok {
			base = strings.TrimPrefix(href, "/")
			return false
		}
		return true
	})

	if base == "" || base == id {
		return ""
	}
	return base
}
