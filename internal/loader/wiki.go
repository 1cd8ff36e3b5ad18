package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"kisync/internal/kis"
	"kisync/internal/model"
)

// defaultWikiPageSize is the number of pages requested per API call.
const defaultWikiPageSize = 50

// WikiLoader pulls pages from a Confluence-compatible wiki over its REST
// API. Pages are selected by exactly one of space key, label, CQL query
// or an explicit page id list. The page version number is the
// fingerprint, so only edited pages mark their documents as changed.
type WikiLoader struct {
	source   *model.Source
	client   *http.Client
	retry    kis.RetryPolicy
	pageSize int
}

// NewWikiLoader creates a loader for a wiki source.
func NewWikiLoader(source *model.Source, retry kis.RetryPolicy) *WikiLoader {
	return &WikiLoader{
		source:   source,
		client:   &http.Client{Timeout: 30 * time.Second},
		retry:    retry,
		pageSize: defaultWikiPageSize,
	}
}

// Validate checks the source configuration without any network call.
func (l *WikiLoader) Validate() error {
	cfg := l.source.Config

	if cfg.BaseURL == "" {
		return &kis.ConfigError{Field: "base_url", Reason: "must not be empty"}
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &kis.ConfigError{Field: "base_url", Reason: "must be an absolute http(s) URL"}
	}

	selectors := 0
	if cfg.SpaceKey != "" {
		selectors++
	}
	if cfg.Label != "" {
		selectors++
	}
	if cfg.Query != "" {
		selectors++
	}
	if len(cfg.PageIDs) > 0 {
		selectors++
	}
	if selectors == 0 {
		return &kis.ConfigError{Field: "space_key", Reason: "one of space_key, label, query or page_ids is required"}
	}
	if selectors > 1 {
		return &kis.ConfigError{Field: "space_key", Reason: "space_key, label, query and page_ids are mutually exclusive"}
	}

	if cfg.MaxPages < 0 {
		return &kis.ConfigError{Field: "max_pages", Reason: "must not be negative"}
	}
	return nil
}

// Load returns an iterator that fetches pages lazily, one API batch at a
// time.
func (l *WikiLoader) Load(ctx context.Context) (kis.DocumentIterator, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}

	base, _ := url.Parse(l.source.Config.BaseURL)
	return &wikiIterator{loader: l, host: base.Host}, nil
}

// wikiPage is the subset of the Confluence content representation the
// loader consumes.
type wikiPage struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Version struct {
		Number int `json:"number"`
	} `json:"version"`
	Body struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
}

type wikiSearchResponse struct {
	Results []wikiPage `json:"results"`
	Size    int        `json:"size"`
}

type wikiIterator struct {
	loader *WikiLoader
	host   string

	buffer  []wikiPage
	start   int  // next offset for listing mode
	idPos   int  // next index for page id mode
	done    bool // no more batches to fetch
	yielded int
}

func (it *wikiIterator) Next(ctx context.Context) (*kis.Document, error) {
	cfg := it.loader.source.Config

	if cfg.MaxPages > 0 && it.yielded >= cfg.MaxPages {
		return nil, nil
	}

	for len(it.buffer) == 0 {
		if it.done {
			return nil, nil
		}
		if err := it.fetchBatch(ctx); err != nil {
			return nil, err
		}
	}

	page := it.buffer[0]
	it.buffer = it.buffer[1:]
	it.yielded++

	return &kis.Document{
		Identifier:  "wiki://" + it.host + "/" + page.ID,
		Name:        page.Title,
		ContentType: "text/html",
		Fingerprint: strconv.Itoa(page.Version.Number),
		Content:     []byte(page.Body.Storage.Value),
		Metadata: map[string]string{
			"page_id": page.ID,
			"version": strconv.Itoa(page.Version.Number),
		},
	}, nil
}

func (it *wikiIterator) Close() error { return nil }

// fetchBatch pulls the next batch of pages into the buffer and flips
// done when the source is exhausted.
func (it *wikiIterator) fetchBatch(ctx context.Context) error {
	cfg := it.loader.source.Config

	if len(cfg.PageIDs) > 0 {
		if it.idPos >= len(cfg.PageIDs) {
			it.done = true
			return nil
		}
		pageID := cfg.PageIDs[it.idPos]
		it.idPos++
		if it.idPos >= len(cfg.PageIDs) {
			it.done = true
		}

		page, err := it.loader.fetchPage(ctx, pageID)
		if err != nil {
			return err
		}
		it.buffer = append(it.buffer, *page)
		return nil
	}

	resp, err := it.loader.searchPages(ctx, it.start)
	if err != nil {
		return err
	}

	it.buffer = append(it.buffer, resp.Results...)
	it.start += len(resp.Results)
	if len(resp.Results) < it.loader.pageSize {
		it.done = true
	}
	return nil
}

// fetchPage retrieves a single page by id.
func (l *WikiLoader) fetchPage(ctx context.Context, pageID string) (*wikiPage, error) {
	endpoint := fmt.Sprintf("%s/rest/api/content/%s?expand=body.storage,version",
		l.source.Config.BaseURL, url.PathEscape(pageID))

	var page wikiPage
	if err := l.getJSON(ctx, endpoint, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// searchPages retrieves one batch of the page listing for the configured
// selector.
func (l *WikiLoader) searchPages(ctx context.Context, start int) (*wikiSearchResponse, error) {
	cfg := l.source.Config

	cql := cfg.Query
	switch {
	case cfg.SpaceKey != "":
		cql = fmt.Sprintf(`space=%q and type=page`, cfg.SpaceKey)
	case cfg.Label != "":
		cql = fmt.Sprintf(`label=%q and type=page`, cfg.Label)
	}

	params := url.Values{}
	params.Set("cql", cql)
	params.Set("start", strconv.Itoa(start))
	params.Set("limit", strconv.Itoa(l.pageSize))
	params.Set("expand", "body.storage,version")
	endpoint := cfg.BaseURL + "/rest/api/content/search?" + params.Encode()

	var resp wikiSearchResponse
	if err := l.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// getJSON performs a GET under the retry policy and decodes the response.
// Server errors are retried; client errors are permanent.
func (l *WikiLoader) getJSON(ctx context.Context, endpoint string, out any) error {
	err := l.retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return kis.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := l.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("%s returned %d: %s", endpoint, resp.StatusCode, body)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return kis.Permanent(err)
			}
			return err
		}

		return json.NewDecoder(resp.Body).Decode(out)
	})
	if err != nil {
		return &kis.FetchError{Source: l.source.Config.BaseURL, Err: err}
	}
	return nil
}

// Compile-time check that WikiLoader implements kis.ContentLoader
var _ kis.ContentLoader = (*WikiLoader)(nil)
