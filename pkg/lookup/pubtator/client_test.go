package pubtator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/grillo/pkg/lookup"
)

type countingWaiter struct {
	calls int
}

func (w *countingWaiter) Wait(ctx context.Context) error {
	w.calls++
	return nil
}

type failingWaiter struct{}

func (failingWaiter) Wait(ctx context.Context) error {
	return context.DeadlineExceeded
}

func TestClientAutocomplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/entity/autocomplete/", r.URL.Path)
		assert.Equal(t, "ACE2", r.URL.Query().Get("query"))
		assert.Equal(t, "GENE", r.URL.Query().Get("concept"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"_id": "@GENE_59272", "biotype": "gene", "name": "ACE2", "description": "angiotensin converting enzyme 2", "match": "Matched on name <m>ACE2</m>"},
			{"_id": "@GENE_1636", "biotype": "gene", "name": "ACE", "match": "Matched on name <m>ACE</m>"}
		]`))
	}))
	defer srv.Close()

	waiter := &countingWaiter{}
	client := NewClient(waiter, WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))

	results, err := client.Autocomplete(context.Background(), "ACE2", "GENE", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "@GENE_59272", results[0].ID)
	assert.Equal(t, "gene", results[0].Biotype)
	assert.Equal(t, "ACE2", results[0].Name)
	require.NotNil(t, results[0].Description)
	assert.Equal(t, "angiotensin converting enzyme 2", *results[0].Description)
	assert.Nil(t, results[1].Description)

	assert.Equal(t, 1, waiter.calls)
}

func TestClientAutocompleteOmitsEmptyConcept(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := r.URL.Query()["concept"]
		assert.False(t, ok, "concept should be omitted when empty")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := NewClient(nil, WithBaseURL(srv.URL))
	results, err := client.Autocomplete(context.Background(), "HeLa", "", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestClientSearchPublications(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/", r.URL.Path)
		assert.Equal(t, "HeLa", r.URL.Query().Get("text"))
		_, _ = w.Write([]byte(`{"results": [
			{"_id": "pmid:1", "text_hl": "@CELLLINE_CVCL:0030 @@@<m>HeLa</m>@@@ cells"},
			{"_id": "pmid:2"}
		]}`))
	}))
	defer srv.Close()

	client := NewClient(nil, WithBaseURL(srv.URL))
	pubs, err := client.SearchPublications(context.Background(), "HeLa")
	require.NoError(t, err)
	require.Len(t, pubs, 2)
	require.NotNil(t, pubs[0].TextHL)
	assert.Contains(t, *pubs[0].TextHL, "HeLa")
	assert.Nil(t, pubs[1].TextHL)
}

func TestClientServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(nil, WithBaseURL(srv.URL))
	_, err := client.Autocomplete(context.Background(), "ACE2", "", 10)
	require.Error(t, err)

	var lerr *lookup.Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, StrategyFindEntityID, lerr.Strategy)
	assert.Equal(t, lookup.ErrUnavailable, lerr.Kind)
}

func TestClientBadJSONIsDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	client := NewClient(nil, WithBaseURL(srv.URL))
	_, err := client.SearchPublications(context.Background(), "HeLa")
	require.Error(t, err)

	var lerr *lookup.Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, StrategyPubSearch, lerr.Strategy)
	assert.Equal(t, lookup.ErrDecode, lerr.Kind)
}

func TestClientLimiterErrorAborts(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer srv.Close()

	client := NewClient(failingWaiter{}, WithBaseURL(srv.URL))
	_, err := client.Autocomplete(context.Background(), "ACE2", "", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, requests)
}
