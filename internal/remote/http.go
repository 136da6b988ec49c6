package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

func init() {
	Register("http", newHTTPClient)
}

// httpClient talks to the cataloging server's JSON API. One instance is
// safe for concurrent use; the underlying http.Client does the pooling.
type httpClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *log.Logger
}

func newHTTPClient(target string, opts Options) (Client, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", target, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: missing host", target)
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &httpClient{
		baseURL: strings.TrimRight(target, "/"),
		apiKey:  opts.APIKey,
		client:  &http.Client{Timeout: timeout},
		logger:  opts.logger(),
	}, nil
}

func (c *httpClient) Name() string { return "http" }

func (c *httpClient) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.getJSON(ctx, "/api/v1/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// sceneListResponse is the paginated envelope for scene listings.
type sceneListResponse struct {
	Items []*ScenePayload `json:"items"`
	Total int             `json:"total"`
}

type entityListResponse struct {
	Items []*EntityPayload `json:"items"`
}

func (c *httpClient) Scenes(ctx context.Context, filter *SceneFilter, page, perPage int) ([]*ScenePayload, int, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(perPage))
	addFilterParams(params, filter)

	var resp sceneListResponse
	if err := c.getJSON(ctx, "/api/v1/scenes", params, &resp); err != nil {
		return nil, 0, err
	}
	return resp.Items, resp.Total, nil
}

func (c *httpClient) Scene(ctx context.Context, id string) (*ScenePayload, error) {
	var scene ScenePayload
	if err := c.getJSON(ctx, "/api/v1/scenes/"+url.PathEscape(id), nil, &scene); err != nil {
		return nil, err
	}
	return &scene, nil
}

func (c *httpClient) Entities(ctx context.Context, kind EntityKind) ([]*EntityPayload, error) {
	path, err := entityPath(kind)
	if err != nil {
		return nil, err
	}
	var resp entityListResponse
	if err := c.getJSON(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *httpClient) EntitiesSince(ctx context.Context, kind EntityKind, since time.Time) ([]*EntityPayload, error) {
	path, err := entityPath(kind)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("updated_since", since.UTC().Format(time.RFC3339))

	var resp entityListResponse
	if err := c.getJSON(ctx, path, params, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// getJSON performs one GET against the server and decodes the body.
// Transport failures and 5xx responses wrap ErrUnavailable so callers
// can distinguish them from per-item conditions.
func (c *httpClient) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("ApiKey", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", ErrUnavailable, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: GET %s", ErrNotFound, path)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: GET %s: status %d", ErrUnauthorized, path, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: GET %s: status %d", ErrUnavailable, path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: GET %s: decoding response: %v", ErrUnavailable, path, err)
	}
	return nil
}

func entityPath(kind EntityKind) (string, error) {
	switch kind {
	case KindPerformer:
		return "/api/v1/performers", nil
	case KindTag:
		return "/api/v1/tags", nil
	case KindStudio:
		return "/api/v1/studios", nil
	default:
		return "", fmt.Errorf("unsupported entity kind %q", kind)
	}
}

func addFilterParams(params url.Values, filter *SceneFilter) {
	if filter == nil {
		return
	}
	if filter.Query != "" {
		params.Set("q", filter.Query)
	}
	if filter.StudioID != "" {
		params.Set("studio_id", filter.StudioID)
	}
	if filter.PerformerID != "" {
		params.Set("performer_id", filter.PerformerID)
	}
	if filter.TagID != "" {
		params.Set("tag_id", filter.TagID)
	}
	if filter.Organized != nil {
		params.Set("organized", strconv.FormatBool(*filter.Organized))
	}
	if filter.MinRating != nil {
		params.Set("min_rating", strconv.Itoa(*filter.MinRating))
	}
	if filter.UpdatedSince != nil {
		params.Set("updated_since", filter.UpdatedSince.UTC().Format(time.RFC3339))
	}
}
