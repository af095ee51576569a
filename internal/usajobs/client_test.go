package usajobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fedjobs/aggregator/internal/jobs"
)

const searchBody = `{
  "LanguageCode": "EN",
  "SearchResult": {
    "SearchResultCountAll": 2,
    "SearchResultItems": [
      {
        "MatchedObjectId": "768104100",
        "MatchedObjectDescriptor": {
          "PositionTitle": "Interdisciplinary Biologist",
          "PublicationStartDate": "2024-01-03T13:36:30.203",
          "OrganizationName": "Naval Facilities Engineering Systems Command",
          "PositionLocation": [
            {"CityName": "Honolulu, Hawaii"},
            {"CityName": "Pearl Harbor, Hawaii"}
          ]
        }
      },
      {
        "MatchedObjectId": "768104101",
        "MatchedObjectDescriptor": {
          "PositionTitle": "Park Ranger",
          "PublicationStartDate": "2024-02-10T08:00:00",
          "OrganizationName": "National Park Service",
          "PositionLocation": [{"CityName": "Anchorage, Alaska"}]
        }
      }
    ]
  }
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:           srv.URL,
		UserAgent:         "aggregator-test",
		AuthorizationKey:  "secret",
		RequestsPerSecond: 1000,
	}, zap.NewNop())
}

func TestFetchPage_MapsEnvelope(t *testing.T) {
	t.Parallel()

	var gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		require.Equal(t, "aggregator-test", r.Header.Get("user-agent"))
		require.Equal(t, "secret", r.Header.Get("authorization-key"))
		fmt.Fprint(w, searchBody)
	})

	page, err := client.FetchPage(context.Background(), Query{Partition: "0401", Page: 1})
	require.NoError(t, err)
	require.Contains(t, gotQuery, "Page=1")
	require.Contains(t, gotQuery, "ResultsPerPage=250")
	require.Contains(t, gotQuery, "JobCategoryCode=0401")

	require.Equal(t, 2, page.CountAll)
	require.Equal(t, "EN", page.Language)
	require.Len(t, page.Jobs, 2)

	job := page.Jobs[0]
	require.Equal(t, "768104100", job.ExternalID)
	require.Equal(t, "Interdisciplinary Biologist", job.Title)
	require.Equal(t, "Naval Facilities Engineering Systems Command", job.OrganizationName)
	require.Equal(t, time.Date(2024, 1, 3, 13, 36, 30, 203000000, time.UTC), job.PostedAt)
	require.Equal(t, []jobs.Location{
		{City: "honolulu", State: "hawaii", Label: "Honolulu, Hawaii"},
		{City: "pearl harbor", State: "hawaii", Label: "Pearl Harbor, Hawaii"},
	}, job.Locations)
}

func TestFetchPage_NonOKStatus(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.FetchPage(context.Background(), Query{Page: 1})
	var srcErr *SourceError
	require.ErrorAs(t, err, &srcErr)
	require.Equal(t, http.StatusBadGateway, srcErr.StatusCode)
}

func TestFetchPage_MalformedBody(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"SearchResult": "not-an-object"}`)
	})

	_, err := client.FetchPage(context.Background(), Query{Page: 1})
	var srcErr *SourceError
	require.ErrorAs(t, err, &srcErr)
}

func TestFetchPage_InvalidRecordFailsPage(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{
  "LanguageCode": "EN",
  "SearchResult": {
    "SearchResultCountAll": 1,
    "SearchResultItems": [
      {"MatchedObjectId": "", "MatchedObjectDescriptor": {"PositionTitle": "x"}}
    ]
  }
}`)
	})

	_, err := client.FetchPage(context.Background(), Query{Page: 1})
	var srcErr *SourceError
	require.ErrorAs(t, err, &srcErr)
	require.Contains(t, err.Error(), "MatchedObjectId")
}

func TestFetchPage_QueryLimitGuard(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{
  "LanguageCode": "EN",
  "SearchResult": {"SearchResultCountAll": 10000, "SearchResultItems": []}
}`)
	})

	_, err := client.FetchPage(context.Background(), Query{Partition: "2210", Page: 3})
	require.ErrorIs(t, err, ErrQueryLimitExceeded)
}

func TestFetchPage_RejectsBadPageNumber(t *testing.T) {
	t.Parallel()

	client := NewClient(Config{}, nil)
	_, err := client.FetchPage(context.Background(), Query{Page: 0})
	require.Error(t, err)
}

func TestListPartitions_ReturnsCodesInSourceOrder(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/codelist/occupationalseries", r.URL.Path)
		fmt.Fprint(w, `{
  "CodeList": [
    {"ValidValue": [{"Code": "0401"}, {"Code": "2210"}, {"Code": "0083"}]}
  ]
}`)
	})

	codes, err := client.ListPartitions(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"0401", "2210", "0083"}, codes)
}

func TestListPartitions_NonOKStatus(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.ListPartitions(context.Background())
	var srcErr *SourceError
	require.ErrorAs(t, err, &srcErr)
}

func TestListPartitions_EmptyCodeList(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"CodeList": []}`)
	})

	_, err := client.ListPartitions(context.Background())
	var srcErr *SourceError
	require.ErrorAs(t, err, &srcErr)
}

func TestSourceError_Unwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("boom")
	err := &SourceError{URL: "http://x", Err: inner}
	require.ErrorIs(t, err, inner)
}
