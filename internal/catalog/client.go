package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"books_nepal/internal/logger"
	"books_nepal/internal/metrics"
	"books_nepal/internal/models"
	"books_nepal/internal/storage"
)

// PageSize is the fixed maxResults sent to the catalog. Only the first page is ever requested.
const PageSize = 40

// maxResponseSize bounds a search or volume response. 40 volumes with long
// descriptions stay well below it.
const maxResponseSize = 8 << 20

var (
	ErrUnexpectedStatus = errors.New("catalog: unexpected status")
	ErrResponseTooLarge = errors.New("catalog: response too large")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client talks to the Google Books volumes endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

func NewClient(client *http.Client, baseURL string) *Client {
	return &Client{
		httpClient: client,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

type volumesResponse struct {
	TotalItems int      `json:"totalItems"`
	Items      []volume `json:"items"`
}

type volume struct {
	ID         string `json:"id"`
	VolumeInfo struct {
		Title         string   `json:"title"`
		Subtitle      string   `json:"subtitle"`
		Authors       []string `json:"authors"`
		Description   string   `json:"description"`
		PublishedDate string   `json:"publishedDate"`
		ImageLinks    struct {
			SmallThumbnail string `json:"smallThumbnail"`
			Thumbnail      string `json:"thumbnail"`
		} `json:"imageLinks"`
	} `json:"volumeInfo"`
}

func (v volume) book() models.Book {
	info := v.VolumeInfo
	thumb := info.ImageLinks.Thumbnail
	if thumb == "" {
		thumb = info.ImageLinks.SmallThumbnail
	}
	// The API hands out http links; Telegram and browsers want https.
	if strings.HasPrefix(thumb, "http://") {
		thumb = "https://" + strings.TrimPrefix(thumb, "http://")
	}

	title := info.Title
	if info.Subtitle != "" {
		title = title + ": " + info.Subtitle
	}

	return models.Book{
		ID:            v.ID,
		Title:         title,
		Authors:       info.Authors,
		ThumbnailURL:  thumb,
		Description:   info.Description,
		PublishedDate: info.PublishedDate,
	}
}

// SearchURL builds the request URL for (query, category).
func (c *Client) SearchURL(query string, category string) string {
	q := query
	if category != "" {
		q = query + ",subject:" + category
	}

	params := url.Values{}
	params.Set("q", q)
	params.Set("startIndex", "0")
	params.Set("maxResults", strconv.Itoa(PageSize))
	return c.baseURL + "?" + params.Encode()
}

// FetchCatalog runs one search. A response without items yields an empty, non-nil slice.
func (c *Client) FetchCatalog(ctx context.Context, query string, category string) ([]models.Book, error) {
	defer logger.Timed(ctx, "catalog search")()
	start := time.Now()

	books, err := c.fetch(ctx, c.SearchURL(query, category))
	metrics.CatalogRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CatalogRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.CatalogRequestsTotal.WithLabelValues("ok").Inc()
	logger.From(ctx).WithFields(logrus.Fields{
		"query":    query,
		"category": category,
		"found":    len(books),
	}).Debug("catalog search done")
	return books, nil
}

func (c *Client) fetch(ctx context.Context, target string) ([]models.Book, error) {
	body, err := c.get(ctx, target, maxResponseSize)
	if err != nil {
		return nil, err
	}

	var resp volumesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}

	books := make([]models.Book, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.ID == "" {
			continue
		}
		books = append(books, item.book())
	}
	return books, nil
}

// FetchBook loads a single volume, used when a rented book is no longer in the
// current result list and the local cache has nothing either.
func (c *Client) FetchBook(ctx context.Context, id string) (models.Book, error) {
	body, err := c.get(ctx, c.baseURL+"/"+url.PathEscape(id), maxResponseSize)
	if err != nil {
		return models.Book{}, err
	}

	var v volume
	if err := json.Unmarshal(body, &v); err != nil {
		return models.Book{}, fmt.Errorf("decode volume: %w", err)
	}
	if v.ID == "" {
		return models.Book{}, fmt.Errorf("volume %s: empty response", id)
	}
	return v.book(), nil
}

// DownloadBytes downloads a cover image through the configured client. A body
// larger than storage.MaxCoverSize is rejected.
func (c *Client) DownloadBytes(ctx context.Context, targetURL string) ([]byte, error) {
	return c.get(ctx, targetURL, storage.MaxCoverSize)
}

func (c *Client) get(ctx context.Context, target string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if n > limit {
		return nil, fmt.Errorf("%w: more than %d bytes from %s", ErrResponseTooLarge, limit, req.URL.Host)
	}
	return buf.Bytes(), nil
}
