package pubtator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/grillo/pkg/lookup"
)

const (
	DefaultBaseURL = "https://www.ncbi.nlm.nih.gov/research/pubtator3-api"

	// StrategyFindEntityID resolves entities via the autocomplete endpoint.
	StrategyFindEntityID = "find_entity_id"
	// StrategyPubSearch resolves entities via highlighted publication
	// search results.
	StrategyPubSearch = "pub_search"

	autocompletePath = "entity/autocomplete/"
	searchPath       = "search/"

	defaultTimeout = 60 * time.Second
)

// Waiter is the admission side of the shared rate limiter. Every PubTator
// request waits on it, so lookup traffic and LLM traffic share one ceiling.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Client talks to the PubTator v3 API. It is safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
	limiter Waiter
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = u
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.client = hc
	}
}

// NewClient builds a client. limiter may be nil, in which case requests are
// not throttled; experiments always pass the shared limiter.
func NewClient(limiter Waiter, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		client:  &http.Client{Timeout: defaultTimeout},
		limiter: limiter,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AutocompleteResult is one suggestion from the entity autocomplete endpoint.
// The field types are guesses; there is no formal description online.
type AutocompleteResult struct {
	ID          string  `json:"id"`
	Biotype     string  `json:"biotype"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Match       string  `json:"match"`
}

// the endpoint spells the identifier "_id"
type wireAutocompleteResult struct {
	ID          string  `json:"_id"`
	Biotype     string  `json:"biotype"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Match       string  `json:"match"`
}

// Autocomplete queries the entity autocomplete endpoint. concept may be empty
// to search all entity types.
func (c *Client) Autocomplete(ctx context.Context, query string, concept string, limit int) ([]AutocompleteResult, error) {
	params := url.Values{}
	params.Set("query", query)
	if concept != "" {
		params.Set("concept", concept)
	}
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, StrategyFindEntityID, autocompletePath, params)
	if err != nil {
		return nil, err
	}

	var wire []wireAutocompleteResult
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, lookup.NewError(StrategyFindEntityID, lookup.ErrDecode, errors.Wrap(err, "parsing autocomplete response"))
	}

	results := make([]AutocompleteResult, 0, len(wire))
	for _, w := range wire {
		results = append(results, AutocompleteResult(w))
	}
	return results, nil
}

// PublicationResult is one publication from the search endpoint, reduced to
// the highlighted text the ID extraction works on.
type PublicationResult struct {
	TextHL *string `json:"text_hl"`
}

type publicationSearchResponse struct {
	Results []PublicationResult `json:"results"`
}

// SearchPublications runs the publication full-text search. The endpoint
// returns up to ten publications and offers no parameter to change that.
func (c *Client) SearchPublications(ctx context.Context, text string) ([]PublicationResult, error) {
	params := url.Values{}
	params.Set("text", text)

	body, err := c.get(ctx, StrategyPubSearch, searchPath, params)
	if err != nil {
		return nil, err
	}

	var resp publicationSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, lookup.NewError(StrategyPubSearch, lookup.ErrDecode, errors.Wrap(err, "parsing publication search response"))
	}
	return resp.Results, nil
}

func (c *Client) get(ctx context.Context, strategy string, path string, params url.Values) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "waiting for rate limiter")
		}
	}

	u := strings.TrimSuffix(c.baseURL, "/") + "/" + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building PubTator request")
	}

	log.Debug().Str("url", u).Msg("querying PubTator")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, lookup.NewError(strategy, lookup.ErrUnavailable, errors.Wrap(err, "requesting PubTator"))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, lookup.NewError(strategy, lookup.ErrUnavailable, errors.Wrap(err, "reading PubTator response"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, lookup.NewError(strategy, lookup.ErrUnavailable,
			errors.Errorf("PubTator answered %d: %s", resp.StatusCode, truncate(string(body), 256)))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
